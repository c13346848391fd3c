package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/streamsniff/internal/types"
)

// Dispatcher answers engine messages. sender is the tab the message came from, if
// the transport knows it.
type Dispatcher interface {
	Dispatch(ctx context.Context, sender types.TabID, msg Message) any
}

// WSHandler serves the message channel over WebSocket. Each text frame is one
// Message; each reply is written back with the same id. A connection may bind
// itself to a tab with ?tab=<id>.
func WSHandler(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("ws upgrade failed", "error", err)
			return
		}
		sender := types.TabID(r.URL.Query().Get("tab"))
		serveConn(r.Context(), conn, sender, d)
	}
}

type wsConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *wsConn) write(id string, payload any) {
	data, err := Encode(id, payload)
	if err != nil {
		slog.Warn("ws reply not encodable", "id", id, "error", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteServerText(c.conn, data); err != nil {
		slog.Debug("ws write failed", "id", id, "error", err)
	}
}

func serveConn(parent context.Context, conn net.Conn, sender types.TabID, d Dispatcher) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	c := &wsConn{conn: conn}
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		_ = conn.Close()
	}()

	slog.Debug("ws client connected", "remote", conn.RemoteAddr().String(), "tab_id", sender)
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			slog.Debug("ws client gone", "remote", conn.RemoteAddr().String(), "error", err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.write("", ErrorReply{Error: "malformed message"})
			continue
		}

		if !msg.Blocking() {
			c.write(msg.ID, d.Dispatch(ctx, sender, msg))
			continue
		}
		inflight.Add(1)
		go func(msg Message) {
			defer inflight.Done()
			c.write(msg.ID, d.Dispatch(ctx, sender, msg))
		}(msg)
	}
}
