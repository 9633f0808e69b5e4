package device

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// maxPayloadBytes bounds one drawing program frame. Vector programs for a
// plotter stay well under this.
const maxPayloadBytes = 4 << 20

// Gateway exposes the sink over a persistent connection: each text frame
// carries one complete drawing payload. There is no framing protocol
// beyond the transport, no rooms, and no authentication.
type Gateway struct {
	log  *slog.Logger
	sink *Sink
}

// NewGateway binds the tunnel endpoint to sink.
func NewGateway(log *slog.Logger, sink *Sink) *Gateway {
	return &Gateway{log: log, sink: sink}
}

// HandleWS upgrades the request and feeds every received frame into the
// sink. Any receive error ends the session; the connection simply closes
// with no structured error sent back.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Device clients are not browsers; origin checks do not apply.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.log.Error("device.ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxPayloadBytes)
	g.log.Info("device.ws.open", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		typ, payload, err := conn.Read(ctx)
		if err != nil {
			g.log.Info("device.ws.closed", "remote", r.RemoteAddr, "err", err)
			return
		}
		if typ != websocket.MessageText || len(payload) == 0 {
			continue
		}

		// Submissions block this connection until the device finishes;
		// that is the intended pacing for a physical plotter.
		if err := g.sink.Submit(ctx, payload); err != nil {
			g.log.Error("device.submit.fail", "err", err)
		}
	}
}
