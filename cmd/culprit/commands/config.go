package commands

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/culprit/pkg/backend"
	"github.com/haivivi/culprit/pkg/jsontime"
	"github.com/haivivi/culprit/pkg/round"
	"github.com/haivivi/culprit/pkg/session"
)

// Config is the server configuration file.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":8080".
	Listen string `yaml:"listen,omitempty"`

	// DataDir holds the BadgerDB snapshot store. Empty runs in-memory
	// (sessions do not survive a restart).
	DataDir string `yaml:"data_dir,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`

	// Realtime configures the speech backend. If absent the server
	// runs without suspect audio (scripted and text-only flows still
	// work).
	Realtime *backend.RealtimeConfig `yaml:"realtime,omitempty"`

	// Archive selects where finished games are written.
	Archive ArchiveConfig `yaml:"archive,omitempty"`

	// Game is the scenario every new room plays.
	Game GameConfig `yaml:"game"`
}

// ArchiveConfig selects the finished-game store. At most one of Dir
// and S3 may be set; neither disables archiving.
type ArchiveConfig struct {
	Dir string    `yaml:"dir,omitempty"`
	S3  *S3Config `yaml:"s3,omitempty"`
}

// S3Config points the archive at an S3-compatible bucket.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// GameConfig is the scenario definition: who did it, who can be
// interrogated, and what the players get to see.
type GameConfig struct {
	Mode          string             `yaml:"mode,omitempty"`
	RoundDuration jsontime.Duration  `yaml:"round_duration,omitempty"`
	Players       []string           `yaml:"players,omitempty"`
	Suspects      []session.Suspect  `yaml:"suspects"`
	CulpritID     string             `yaml:"culprit_id"`
	Evidence      []session.Evidence `yaml:"evidence,omitempty"`
}

// RoundMode maps the config string onto the session mode.
func (g *GameConfig) RoundMode() (round.Mode, error) {
	switch g.Mode {
	case "", "single":
		return round.ModeSingle, nil
	case "multi":
		return round.ModeMulti, nil
	default:
		return 0, fmt.Errorf("unknown game mode %q (want single or multi)", g.Mode)
	}
}

// LoadConfig reads and validates the server configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// ${VAR} references resolve from the environment, so secrets like
	// the realtime API key stay out of the file.
	data = []byte(os.ExpandEnv(string(data)))
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Game.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.Archive.Dir != "" && cfg.Archive.S3 != nil {
		return nil, fmt.Errorf("config %s: archive.dir and archive.s3 are mutually exclusive", path)
	}
	if s3 := cfg.Archive.S3; s3 != nil && s3.Bucket == "" {
		return nil, fmt.Errorf("config %s: archive.s3.bucket is required", path)
	}
	return &cfg, nil
}

func (g *GameConfig) validate() error {
	mode, err := g.RoundMode()
	if err != nil {
		return err
	}
	if len(g.Suspects) == 0 {
		return fmt.Errorf("game.suspects must not be empty")
	}
	found := false
	for _, s := range g.Suspects {
		if s.ID == "" {
			return fmt.Errorf("game.suspects entries need an id")
		}
		if s.ID == g.CulpritID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("game.culprit_id %q does not name a suspect", g.CulpritID)
	}
	if mode == round.ModeMulti && len(g.Players) < 2 {
		return fmt.Errorf("game.players needs at least two entries in multi mode")
	}
	return nil
}
