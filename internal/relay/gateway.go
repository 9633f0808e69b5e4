package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	v1 "plotrelay/relay/v1"

	"github.com/coder/websocket"
)

// SessionResolver looks up the authenticated principal, if any, bound to
// the HTTP session of an upgrade request. The relay checks it exactly once,
// at connect time; join/leave are never re-verified, only plot forwarding
// depends on the result.
type SessionResolver interface {
	PrincipalFromRequest(r *http.Request) (principalID string, ok bool)
}

// AnonymousResolver treats every connection as unauthenticated.
type AnonymousResolver struct{}

func (AnonymousResolver) PrincipalFromRequest(*http.Request) (string, bool) { return "", false }

// GatewayConfig controls transport behavior. The zero value is usable; see
// withDefaults.
type GatewayConfig struct {
	// Origin policy. When OriginRequired is true, requests without an
	// Origin header are rejected; requests with one must match the
	// allowlist either as a full origin or by host.
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 5 * time.Minute
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// Gateway is the websocket entrypoint of the relay. It upgrades
// connections, binds the session principal, and routes join/leave/plot/
// notify messages through the Hub.
type Gateway struct {
	log      *slog.Logger
	cfg      GatewayConfig
	hub      *Hub
	sessions SessionResolver
	metrics  *Metrics

	originPatterns []string
}

// NewGateway constructs a Gateway. A nil resolver means every connection
// is anonymous; nil metrics register on a throwaway registry-less set.
func NewGateway(log *slog.Logger, cfg GatewayConfig, hub *Hub, sessions SessionResolver, metrics *Metrics) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if sessions == nil {
		sessions = AnonymousResolver{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	cfg = cfg.withDefaults()

	return &Gateway{
		log:            log,
		cfg:            cfg,
		hub:            hub,
		sessions:       sessions,
		metrics:        metrics,
		originPatterns: originHostPatterns(cfg.AllowedOrigins),
	}
}

// Hub returns the room registry the gateway routes through.
func (g *Gateway) Hub() *Hub { return g.hub }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the relay loop until disconnect.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	principalID, _ := g.sessions.PrincipalFromRequest(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnectionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id generation failed")
		return
	}

	client := NewClient(connID, principalID, g.cfg.SendQueueSize)

	g.metrics.ConnectsTotal.Inc()
	g.metrics.ConnectionsActive.Inc()
	defer g.metrics.ConnectionsActive.Dec()

	g.log.Info("ws.connect", "conn_id", connID, "authenticated", client.Authenticated(), "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Membership is dropped before the client is
	// closed so a broadcaster holding a stale handle hits the Done branch.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Drop(connID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	limiter := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case msg := <-client.Send:
				if err := writeMessage(ctx, conn, msg, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(pingCtx)
				pingCancel()

				if err != nil {
					failures++
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		msg, err := readMessage(readCtx, conn)
		readCancel()

		if err != nil {
			// Receive failures (including malformed frames) terminate the
			// connection; nothing structured is reported back.
			if !isExpectedClose(err) {
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
			}
			shutdown(websocket.StatusAbnormalClosure, "read failed")
			break readLoop
		}

		now := time.Now().UTC()
		if !limiter.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many messages")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := msg.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_message", err.Error())
			continue readLoop
		}

		switch msg.Type {
		case v1.TypeJoin:
			g.hub.Room(msg.Room).Join(client)
			g.metrics.JoinsTotal.Inc()

		case v1.TypeLeave:
			g.hub.Leave(msg.Room, connID)
			g.metrics.LeavesTotal.Inc()

		case v1.TypePlot:
			// Forwarding to the plotter requires an authenticated sender;
			// an anonymous plot is dropped without telling the sender.
			if !client.Authenticated() {
				g.metrics.PlotDenied.Inc()
				g.log.Info("ws.plot.denied", "conn_id", connID)
				continue readLoop
			}
			g.forward(v1.RoomPlotter, v1.Message{Type: v1.TypePlot, Data: msg.Data})
			g.metrics.PlotForwarded.Inc()
			g.log.Info("ws.plot.forward", "conn_id", connID, "bytes", len(msg.Data))

		case v1.TypeNotify:
			// The plotter side is trusted by convention; no auth check.
			g.forward(v1.RoomGuests, v1.Message{Type: v1.TypeNotify, Data: msg.Data})
			g.metrics.NotifyForwarded.Inc()
			g.log.Info("ws.notify.forward", "conn_id", connID, "bytes", len(msg.Data))

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", msg.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(time.Second):
	}

	g.log.Info("ws.disconnect", "conn_id", connID)
}

func (g *Gateway) forward(room string, msg v1.Message) {
	_, dropped := g.hub.Room(room).Broadcast(msg)
	if dropped > 0 {
		g.metrics.SendsDropped.Add(float64(dropped))
	}
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	out := v1.NewError(code, msg)
	select {
	case <-ctx.Done():
	case <-client.Done():
	case client.Send <- out:
	default:
	}
}

// ---- frame IO ----

func readMessage(ctx context.Context, conn *websocket.Conn) (v1.Message, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Message{}, err
	}
	if mt != websocket.MessageText {
		return v1.Message{}, fmt.Errorf("unsupported frame type: %v", mt)
	}
	var msg v1.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return v1.Message{}, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}

func writeMessage(parent context.Context, conn *websocket.Conn, msg v1.Message, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func isExpectedClose(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (empty allowlist)")
	}

	host := originHost(origin)
	for _, allowed := range g.cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			return nil
		}
		if origin == allowed {
			return nil
		}
		if host != "" && host == originHost(allowed) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originHostPatterns derives websocket.AcceptOptions.OriginPatterns from the
// allowlist so both origin layers agree on which cross-origin hosts pass.
func originHostPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHost(a)
		if h == "" {
			continue
		}
		if strings.TrimSpace(a) == "*" {
			h = "*"
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	return out
}
