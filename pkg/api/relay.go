package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/engramic/engramic/pkg/plugin"
)

// writeTimeout bounds a single websocket send.
const writeTimeout = 5 * time.Second

// Relay forwards streaming packets to the single active websocket
// connection. It satisfies the plugin.StreamSink contract so the response
// pipeline can write to it directly; packets sent with no connection
// attached are dropped.
type Relay struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Send relays one packet as a JSON text frame. Failures are logged, never
// propagated — streaming is best-effort and the full text still arrives via
// main_prompt_complete.
func (r *Relay) Send(packet plugin.StreamPacket) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(packet)
	if err != nil {
		slog.Error("Unencodable stream packet", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Warn("Failed to relay stream packet", "error", err)
	}
}

// attach makes conn the active relay connection, closing any prior one.
func (r *Relay) attach(conn *websocket.Conn) {
	r.mu.Lock()
	prior := r.conn
	r.conn = conn
	r.mu.Unlock()
	if prior != nil {
		_ = prior.Close(websocket.StatusNormalClosure, "replaced by new connection")
	}
}

// detach clears conn if it is still the active connection.
func (r *Relay) detach(conn *websocket.Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
}

var _ plugin.StreamSink = (*Relay)(nil)
