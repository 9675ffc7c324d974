package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/haivivi/culprit/pkg/backend"
	"github.com/haivivi/culprit/pkg/cli"
	"github.com/haivivi/culprit/pkg/gateway"
	"github.com/haivivi/culprit/pkg/kv"
	"github.com/haivivi/culprit/pkg/session"
	"github.com/haivivi/culprit/pkg/storage"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the game server",
	Long: `Run the game server.

Clients connect to /ws?room=<id>&participant=<id>. The first
connection for a room creates a session from the configured
scenario; later connections join it. Finished games are archived
to the configured store.

Example:
  culprit serve --config server.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}

	var be backend.Backend
	if cfg.Realtime != nil && cfg.Realtime.APIKey != "" {
		rt := *cfg.Realtime
		rt.Logger = logger
		be, err = backend.NewRealtime(rt)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no realtime backend configured, suspects will not speak")
	}

	mgr := session.NewManager(session.ManagerConfig{
		Backend:       be,
		Store:         store,
		Archive:       archive,
		RoundDuration: cfg.Game.RoundDuration.Duration(),
		Logger:        logger,
	})
	defer mgr.Close()

	gw, err := gateway.New(gateway.Config{
		Manager:    mgr,
		NewSession: newSessionFunc(&cfg.Game),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	fmt.Println(startupBanner(cfg, be != nil))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	if verbose {
		lv = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv})), nil
}

func openStore(cfg *Config) (*kv.Badger, error) {
	if cfg.DataDir == "" {
		return kv.NewBadger(kv.BadgerOptions{InMemory: true})
	}
	return kv.NewBadger(kv.BadgerOptions{Dir: cfg.DataDir})
}

func openArchive(cfg *Config) (storage.FileStore, error) {
	switch {
	case cfg.Archive.Dir != "":
		return storage.NewLocal(cfg.Archive.Dir)
	case cfg.Archive.S3 != nil:
		sc := cfg.Archive.S3
		client := s3.New(s3.Options{
			Region: sc.Region,
			Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     sc.AccessKey,
					SecretAccessKey: sc.SecretKey,
				}, nil
			}),
			BaseEndpoint: endpointPtr(sc.Endpoint),
		})
		return storage.NewS3(client, sc.Bucket, sc.Prefix), nil
	default:
		return nil, nil
	}
}

func endpointPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// newSessionFunc builds new rooms from the configured scenario.
func newSessionFunc(g *GameConfig) func(roomID string) (session.Config, error) {
	return func(roomID string) (session.Config, error) {
		mode, err := g.RoundMode()
		if err != nil {
			return session.Config{}, err
		}
		players := g.Players
		if len(players) == 0 {
			players = []string{"detective"}
		}
		return session.Config{
			RoomID:        roomID,
			Mode:          mode,
			Players:       players,
			Suspects:      g.Suspects,
			CulpritID:     g.CulpritID,
			Evidence:      g.Evidence,
			RoundDuration: g.RoundDuration.Duration(),
		}, nil
	}
}

func startupBanner(cfg *Config, hasBackend bool) string {
	speech := "disabled"
	if hasBackend {
		speech = "realtime"
	}
	arch := "disabled"
	switch {
	case cfg.Archive.Dir != "":
		arch = cfg.Archive.Dir
	case cfg.Archive.S3 != nil:
		arch = "s3://" + cfg.Archive.S3.Bucket
	}
	store := cfg.DataDir
	if store == "" {
		store = "in-memory"
	}
	return cli.Banner{
		Styles: cli.NewStyles(cli.DefaultTheme),
		Title:  "culprit",
		Fields: []cli.Field{
			{Label: "listen", Value: cfg.Listen},
			{Label: "mode", Value: modeLabel(cfg.Game.Mode)},
			{Label: "suspects", Value: fmt.Sprintf("%d", len(cfg.Game.Suspects))},
			{Label: "speech", Value: speech},
			{Label: "store", Value: store},
			{Label: "archive", Value: arch},
		},
	}.Render()
}

func modeLabel(mode string) string {
	if mode == "" {
		return "single"
	}
	return mode
}
