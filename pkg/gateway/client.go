package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/culprit/pkg/session"
	"github.com/haivivi/culprit/pkg/wire"
)

// client is one connected player. It implements session.Subscriber; the
// session worker hands it frames which the write pump drains. A client
// that cannot keep up loses frames rather than stalling the worker; the
// next versioned snapshot makes it whole.
type client struct {
	conn          *websocket.Conn
	sess          *session.Session
	participantID string
	log           *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, sess *session.Session, participantID string, log *slog.Logger) *client {
	return &client{
		conn:          conn,
		sess:          sess,
		participantID: participantID,
		log:           log,
		send:          make(chan []byte, sendQueueSize),
		done:          make(chan struct{}),
	}
}

// Send implements session.Subscriber. It never blocks.
func (c *client) Send(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Debug("send queue full, frame dropped")
	}
}

func (c *client) run() {
	if err := c.sess.Join(c.participantID, c); err != nil {
		c.log.Warn("join failed", "err", err)
		c.conn.Close()
		return
	}
	go c.writePump()
	c.readPump()

	c.sess.Leave(c)
	c.close()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", "err", err)
			}
			return
		}
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	env, err := wire.ParseEnvelope(data)
	if err != nil {
		c.Send(wire.NewError(wire.CodeBadMessage, err.Error()))
		return
	}

	// Audio bypasses the intent queue.
	if env.Type == wire.TypeAudioDeltaUser {
		frame, err := wire.Decode[wire.AudioDelta](env)
		if err != nil {
			c.Send(wire.NewError(wire.CodeBadMessage, err.Error()))
			return
		}
		if err := c.sess.PushAudio(frame.RoundID, frame.Delta); err != nil {
			c.log.Debug("audio frame rejected", "err", err)
		}
		return
	}

	if err := c.sess.Dispatch(c.participantID, c, env); err != nil {
		switch {
		case errors.Is(err, session.ErrBackpressure):
			c.Send(wire.NewError(wire.CodeBackpressure, "intent queue full, retry with backoff"))
		case errors.Is(err, session.ErrClosed):
			c.Send(wire.NewError(wire.CodeUnknownSession, "session is closed"))
		default:
			c.Send(wire.NewError(wire.CodeBadMessage, err.Error()))
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
