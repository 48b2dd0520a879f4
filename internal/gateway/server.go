// Package gateway is the HTTP and WebSocket surface: the webhook endpoint,
// read-only statistics endpoints and a live feed of hook events.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/chatpulse/internal/config"
	"github.com/soyeahso/chatpulse/internal/hooks"
	"github.com/soyeahso/chatpulse/internal/ingest"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/stats"
	"github.com/soyeahso/chatpulse/internal/version"
)

// Ingester runs a raw webhook body through the pipeline.
type Ingester interface {
	Process(ctx context.Context, raw []byte, src ingest.Source) (*ingest.Result, error)
}

// StatsReader serves the read-only statistics endpoints.
type StatsReader interface {
	Overall(ctx context.Context, days int) (*stats.Summary, error)
	PerContact(ctx context.Context, phone string, days int) (*stats.Summary, error)
	Ranking(ctx context.Context, limit, days int) ([]stats.RankingEntry, error)
	PendingNow(ctx context.Context, limit int) ([]stats.PendingItem, error)
}

// liveFeedHook is the name the broadcaster registers under on the hook manager.
const liveFeedHook = "gateway.livefeed"

// Server is the chatpulse HTTP + WebSocket server.
type Server struct {
	cfg        config.ServerConfig
	production bool
	ingest     Ingester
	stats      StatsReader
	log        *logging.Logger
	clients    *ClientRegistry
	eventSeq   atomic.Int64

	// Hook manager (optional; nil disables the live feed)
	hooks *hooks.Manager

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events and the live feed.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates a server. Nothing listens until Start.
func New(cfg config.Config, in Ingester, st StatsReader, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:        cfg.Server,
		production: cfg.Production(),
		ingest:     in,
		stats:      st,
		log:        log.Sub("gateway"),
		clients:    NewClientRegistry(log.Sub("livefeed")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Server.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.hooks != nil {
		s.hooks.OnAll(liveFeedHook, s.broadcastHook)
	}
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// Requests without an Origin (non-browser clients) are always allowed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully: in-flight webhooks finish before Start returns.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	writeTimeout := s.cfg.RequestTimeout + 5*time.Second
	s.httpServer = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Bool("production", s.production).
		Msg("server ready")
	s.hooks.Emit(ctx, hooks.EventServerStart, map[string]any{
		"addr":    ln.Addr().String(),
		"version": version.Version,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		s.hooks.Emit(context.Background(), hooks.EventServerStop, nil)
		s.clients.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("graceful shutdown incomplete")
		}
	}()

	err := s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// broadcastHook forwards every hook event to the live feed.
func (s *Server) broadcastHook(_ context.Context, p hooks.Payload) error {
	if s.clients.Count() == 0 {
		return nil
	}
	s.clients.Broadcast(p.Event, p, s.eventSeq.Add(1))
	return nil
}

// handleWebSocket upgrades to WebSocket and holds the connection open until
// the client goes away. The feed is one-way.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(4096)

	client := NewClient(conn, clientIP(r))
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	if err := client.SendEvent(EventHello, Hello{
		ConnID:  client.ConnID,
		Version: version.Version,
		Events:  hooks.AllEvents,
	}, 0); err != nil {
		s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("failed to greet client")
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
	}
}
