package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/metrics"
	"github.com/cuemby/actyx/pkg/node"
)

// buildVersion is reported by /node/info. Overridden at link time with
// -ldflags "-X github.com/cuemby/actyx/pkg/api.buildVersion=...".
var buildVersion = "dev"

// Config configures a Server.
type Config struct {
	Addr string
	Node *node.Node

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	// WriteTimeout stays zero: /events/subscribe holds its connection
	// open indefinitely once upgraded to a websocket.
	return c
}

// Server is the HTTP/WS facade in front of a node.Node: chi-routed
// handlers over the core's emit/query/subscribe/offsets contract,
// plus node info, health, metrics, and the app-manifest login
// exchange.
type Server struct {
	cfg    Config
	node   *node.Node
	tokens *tokenStore
	http   *http.Server
}

// NewServer builds a Server bound to cfg.Node. Call Start to begin
// listening.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if cfg.Node == nil {
		return nil, fmt.Errorf("api: Config.Node is required")
	}

	s := &Server{
		cfg:    cfg,
		node:   cfg.Node,
		tokens: newTokenStore(),
	}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/auth/login", s.loginHandler)

	r.Group(func(r chi.Router) {
		r.Use(requireBearer(s.tokens))
		r.Post("/events/publish", s.publishHandler)
		r.Post("/events/query", s.queryHandler)
		// GET, not POST: the websocket handshake RFC 6455 requires is a
		// GET request. The query travels in the querystring instead of
		// a JSON body; see subscribeHandler.
		r.Get("/events/subscribe", s.subscribeHandler)
		r.Get("/events/offsets", s.offsetsHandler)
		r.Get("/node/info", s.nodeInfoHandler)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	l := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		metrics.APIRequestsTotal.WithLabelValues(route, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		l.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

// Start begins listening on cfg.Addr. It blocks until Stop closes the
// listener, at which point it returns nil.
func (s *Server) Start() error {
	log.WithComponent("api").Info().Str("addr", s.cfg.Addr).Msg("api server listening")
	err := s.http.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, waiting up to timeout for
// in-flight requests (and open subscription websockets) to drain.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	return nil
}
