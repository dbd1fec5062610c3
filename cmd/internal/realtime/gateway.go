package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"parley/cmd/identity/ids"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/broker"
	v1 "parley/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Subscriber authorizes a subscription and registers it with the broker.
// An empty viewerID is an anonymous client.
type Subscriber interface {
	Subscribe(ctx context.Context, viewerID string, topic broker.Topic, chatID int64) (*broker.Channel, error)
}

// Authenticator verifies a connection credential.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (session.AccessClaims, error)
}

// Gateway is the WebSocket entrypoint for subscriptions.
//
// It enforces origin policy and subprotocol selection, then runs one
// connection state machine per socket: authenticate, subscribe once, stream
// broker events until the registration completes or the client goes away.
type Gateway struct {
	log     *slog.Logger
	cfg     Config
	subs    Subscriber
	auth    Authenticator
	metrics *Metrics
	ids     *ids.Generator
	now     func() time.Time

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

type Option func(*Gateway)

func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(g *Gateway) { g.cfg = cfg }
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithAuthenticator enables credentialed connections. Without one every
// credential is rejected and only anonymous streams work.
func WithAuthenticator(a Authenticator) Option {
	return func(g *Gateway) { g.auth = a }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(subs Subscriber, opts ...Option) (*Gateway, error) {
	if subs == nil {
		return nil, errors.New("realtime: subscriber is required")
	}
	g := &Gateway{
		log:  slog.Default(),
		cfg:  DefaultConfig(),
		subs: subs,
		ids:  ids.NewGenerator(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.cfg = g.cfg.withDefaults()
	g.originPatterns = originPatterns(g.cfg.AllowedOrigins)
	return g, nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := enforceOrigin(g.cfg, r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Server read/write timeouts would otherwise outlive the upgrade and cut long-lived streams.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	c := newConn(g, ws)
	c.log.Debug("ws.accept", "remote", r.RemoteAddr)
	c.serve(r.Context())
}
