package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/creditgate/internal/config"
	"github.com/digkill/creditgate/internal/models"
	"github.com/digkill/creditgate/internal/service"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type GapLister interface {
	ListUnresolved(ctx context.Context, limit int) ([]models.BillingGap, error)
	Resolve(ctx context.Context, id string) error
}

type Server struct {
	addr         string
	username     string
	password     string
	writeTimeout time.Duration
	log          *slog.Logger
	generation   *service.GenerationService
	accounts     *service.AccountService
	gaps         GapLister
	store        Pinger
	router       *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, generation *service.GenerationService, accounts *service.AccountService, gaps GapLister, store Pinger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxBodyBytes))

	s := &Server{
		addr:         cfg.ListenAddr,
		username:     cfg.AdminUsername,
		password:     cfg.AdminPassword,
		writeTimeout: cfg.UpstreamTimeout + 15*time.Second,
		log:          log,
		generation:   generation,
		accounts:     accounts,
		gaps:         gaps,
		store:        store,
		router:       r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/generate", s.handleGenerate)
	r.Route("/user", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/create", s.handleCreate)
	})
	if cfg.AdminEnabled() {
		r.Route("/admin", func(protected chi.Router) {
			protected.Use(s.basicAuthMiddleware())
			protected.Get("/billing-gaps", s.handleListGaps)
			protected.Post("/billing-gaps/{id}/resolve", s.handleResolveGap)
			protected.Post("/accounts/{id}/credits", s.handleTopUp)
			protected.Put("/accounts/{id}/tier", s.handleSetTier)
		})
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.writeTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("gateway shutdown error", "err", err)
		}
	}()

	s.log.Info("gateway listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.PingContext(ctx); err != nil {
		s.log.Error("health check failed", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
