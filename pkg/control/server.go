package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/small-frappuccino/tgperms/pkg/access"
	"github.com/small-frappuccino/tgperms/pkg/log"
	"github.com/small-frappuccino/tgperms/pkg/reconcile"
	"github.com/small-frappuccino/tgperms/pkg/webapp"
)

const (
	defaultMaxBodyBytes     = 64 * 1024
	defaultOperationTimeout = 30 * time.Second
)

// Deps are the collaborators the control server drives.
type Deps struct {
	Reconciler *reconcile.Reconciler
	Gate       *access.Gate
	Validator  *webapp.Validator
	// Notifier answers bot commands. The webhook route exists only when
	// both Notifier and WebhookSecret are set.
	Notifier Notifier

	// PanelURL is linked from bot replies.
	PanelURL string
	// WebhookSecret must match X-Telegram-Bot-Api-Secret-Token.
	WebhookSecret string
	// DebugUserID stands in for requests without initData. Zero disables it.
	DebugUserID int64
	// OperationTimeout bounds one reconciler call.
	OperationTimeout time.Duration
}

// Server is the control panel: HTML pages, the JSON API and the bot webhook.
type Server struct {
	addr       string
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
	pages      *pages
}

// NewServer returns nil if addr is empty or no reconciler is given.
func NewServer(addr string, deps Deps) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || deps.Reconciler == nil {
		return nil
	}
	if deps.Gate == nil {
		deps.Gate = access.NewGate()
	}
	if deps.OperationTimeout <= 0 {
		deps.OperationTimeout = defaultOperationTimeout
	}

	s := &Server{
		addr:  addr,
		deps:  deps,
		pages: mustLoadPages(),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(limitBody)

	r.Get("/", s.handleIndex)
	r.Get("/settings", s.handleSettingsPage)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/schema", s.handleSchema)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/api/settings", s.handleGetSettings)
		r.Post("/api/update", s.handleUpdate)
		r.Post("/api/update-all", s.handleUpdateAll)
		r.Get("/api/sync", s.handleSync)
		r.Post("/api/sync", s.handleSync)
		r.Get("/api/apply", s.handleApply)
		r.Post("/api/apply", s.handleApply)
	})

	if s.deps.Notifier != nil && s.deps.WebhookSecret != "" {
		r.Post("/webhook", s.handleWebhook)
	}

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, failure("", "method not allowed"))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, failure("", "not found"))
	})
	return r
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.router
}

// Start opens the listening socket and serves in the background.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Addr is the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

func (s *Server) operationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.deps.OperationTimeout)
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.ApplicationLogger().Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
