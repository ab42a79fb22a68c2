package websocket

import (
	"net/http"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"duelkit/core"
	"duelkit/realtime"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Options tunes the handler.
type Options struct {
	// AllowedOrigin restricts the Origin header; empty or "*" accepts any.
	AllowedOrigin string
	Buffer        int
	Logger        *zap.Logger
}

// Handler returns an http.Handler that upgrades to WebSocket and streams events from the hub.
// A comma separated ?types= query narrows the stream to those event types.
func Handler(hub *realtime.Hub, opts Options) http.Handler {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return opts.AllowedOrigin == "" || opts.AllowedOrigin == "*" || origin == "" || origin == opts.AllowedOrigin
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		types := parseTypes(r.URL.Query().Get("types"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			opts.Logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()
		id, ch := hub.Subscribe(opts.Buffer, types...)
		defer hub.Unsubscribe(id)

		// read pump: handles pongs and notices when the peer goes away
		closed := make(chan struct{})
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

func parseTypes(raw string) []core.EventType {
	if raw == "" {
		return nil
	}
	var out []core.EventType
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, core.EventType(p))
		}
	}
	return out
}
