// Package gateway terminates client WebSocket connections and routes
// their messages into sessions. A connection belongs to one room; the
// gateway replays the room snapshot on join and fans broadcasts back
// out. User audio frames skip the session intent queue and go straight
// to the relay so voice latency is unaffected by other traffic.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/culprit/pkg/kv"
	"github.com/haivivi/culprit/pkg/session"
)

// Config assembles a Gateway.
type Config struct {
	// Manager owns the live sessions.
	Manager *session.Manager

	// NewSession produces the game setup for a room that has neither a
	// live session nor a persisted snapshot. Identity is handled
	// upstream; the player list must already be in the returned config.
	NewSession func(roomID string) (session.Config, error)

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// CheckOrigin overrides the upgrader's origin check. Nil accepts
	// same-origin only, per gorilla's default.
	CheckOrigin func(r *http.Request) bool
}

// Gateway is an http.Handler upgrading requests to game connections.
//
// The client identifies itself with the `room` and `participant` query
// parameters. A real deployment fronts this with the identity provider;
// the gateway trusts the parameters at this boundary.
type Gateway struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("gateway: manager is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}, nil
}

// ServeHTTP upgrades the connection and runs the client pumps until the
// peer disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	participantID := r.URL.Query().Get("participant")
	if roomID == "" || participantID == "" {
		http.Error(w, "room and participant are required", http.StatusBadRequest)
		return
	}

	sess, err := g.session(r.Context(), roomID)
	if err != nil {
		g.log.Warn("room lookup failed", "room", roomID, "err", err)
		http.Error(w, "unknown room", http.StatusNotFound)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", "room", roomID, "err", err)
		return
	}

	c := newClient(conn, sess, participantID, g.log.With("room", roomID, "participant", participantID))
	c.run()
}

// session finds the room: live first, then a persisted snapshot, then a
// fresh game if the gateway knows how to set one up.
func (g *Gateway) session(ctx context.Context, roomID string) (*session.Session, error) {
	if s := g.cfg.Manager.Get(roomID); s != nil {
		return s, nil
	}
	if g.cfg.NewSession == nil {
		return nil, fmt.Errorf("gateway: no session for room %s", roomID)
	}
	cfg, err := g.cfg.NewSession(roomID)
	if err != nil {
		return nil, err
	}
	cfg.RoomID = roomID

	s, err := g.cfg.Manager.Resume(ctx, cfg)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, kv.ErrNotFound) && !errors.Is(err, session.ErrRoomExists) {
		g.log.Warn("resume failed, starting fresh", "room", roomID, "err", err)
	}
	if s := g.cfg.Manager.Get(roomID); s != nil {
		return s, nil
	}
	s, err = g.cfg.Manager.Create(cfg)
	if errors.Is(err, session.ErrRoomExists) {
		if live := g.cfg.Manager.Get(roomID); live != nil {
			return live, nil
		}
	}
	return s, err
}

// Connection tuning, the usual gorilla numbers.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 128
)
