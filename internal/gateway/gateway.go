// ABOUTME: Gateway orchestrator wiring store, escalation, router, and HTTP server
// ABOUTME: Owns component lifecycle from config load to graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tripline/livechat/internal/auth"
	"github.com/tripline/livechat/internal/channel"
	"github.com/tripline/livechat/internal/chat"
	"github.com/tripline/livechat/internal/config"
	"github.com/tripline/livechat/internal/escalation"
	"github.com/tripline/livechat/internal/events"
	"github.com/tripline/livechat/internal/router"
	"github.com/tripline/livechat/internal/store"
)

// Gateway coordinates every component of the livechat service.
type Gateway struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	machine    *escalation.Machine
	router     *router.Router
	authorizer *channel.Authorizer
	service    *chat.Service
	verifier   auth.TokenVerifier
	publisher  events.Publisher // nil when events are disabled
}

// New creates a Gateway from configuration, opening the store and, when
// configured, the broker connection.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var publisher events.Publisher
	if cfg.Events.Enabled {
		publisher, err = events.NewAMQP(cfg.Events.URL, cfg.Events.Exchange, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connecting event broker: %w", err)
		}
	}

	machine := escalation.NewMachine(logger)
	r := router.New(cfg.Chat.SubscriberBuffer, logger)
	service := chat.NewService(st, machine, r, chat.ScriptedBot{}, publisher, logger)
	authorizer := channel.NewAuthorizer(st, logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	return &Gateway{
		cfg:        cfg,
		logger:     logger.With("component", "gateway"),
		store:      st,
		machine:    machine,
		router:     r,
		authorizer: authorizer,
		service:    service,
		verifier:   verifier,
		publisher:  publisher,
	}, nil
}

// Handler builds the full HTTP handler, including auth middleware. Exposed
// separately from Run so tests can drive it with httptest.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", g.handleHealth)

	mux.HandleFunc("/api/chat/session", g.handleCreateSession)
	mux.HandleFunc("/api/chat/auth", g.handleChannelAuth)
	mux.HandleFunc("/api/chat/stream", g.handleStream)
	mux.HandleFunc("/api/chat/send", g.handleSend)
	mux.HandleFunc("/api/chat/history", g.handleHistory)
	mux.HandleFunc("/api/chat/status", g.handleStatus)

	mux.HandleFunc("/api/chat/escalate", g.handleEscalate)
	mux.HandleFunc("/api/chat/takeover", g.handleTakeover)
	mux.HandleFunc("/api/chat/release", g.handleRelease)
	mux.HandleFunc("/api/chat/resolve", g.handleResolve)

	// Staff dashboard: the escalation queue requires a token that already
	// asserts a staff role.
	queue := auth.RequireRolesHTTP(string(channel.RoleAgent), string(channel.RoleAdmin))(
		http.HandlerFunc(g.handleQueue))
	mux.Handle("/api/chat/queue", queue)

	return auth.OptionalAuthMiddleware(g.verifier)(mux)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	g.machine.StartJanitor(ctx, g.cfg.Chat.JanitorInterval, g.cfg.Chat.ResolvedRetention)

	server := &http.Server{
		Addr:              g.cfg.Server.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		g.close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("shutdown error", "error", err)
	}

	g.close()
	return nil
}

// close releases every resource the gateway owns.
func (g *Gateway) close() {
	g.router.Close()
	if g.publisher != nil {
		if err := g.publisher.Close(); err != nil {
			g.logger.Error("closing event publisher", "error", err)
		}
	}
	if err := g.store.Close(); err != nil {
		g.logger.Error("closing store", "error", err)
	}
}
