// Package server assembles the gatekeeper pipeline and HTTP routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/abund-gatekeeper/internal/cache"
	"github.com/abund-gatekeeper/internal/config"
	"github.com/abund-gatekeeper/internal/handler"
	"github.com/abund-gatekeeper/internal/handler/admin"
	"github.com/abund-gatekeeper/internal/metrics"
	"github.com/abund-gatekeeper/internal/middleware"
	"github.com/abund-gatekeeper/internal/privacy"
	"github.com/abund-gatekeeper/internal/quota"
	"github.com/abund-gatekeeper/internal/service"
	"github.com/abund-gatekeeper/internal/store"
)

// Deps are the long-lived collaborators the pipeline runs against.
type Deps struct {
	Store store.Store
	// Cache holds quota counters. Nil disables quota enforcement.
	Cache     cache.Cache
	Hasher    *privacy.Hasher
	Scheduler middleware.Scheduler
	Metrics   *metrics.Metrics
	// Admin guards /admin. Nil leaves the admin API unmounted.
	Admin   *middleware.GoogleAuth
	Version string
	Now     func() time.Time
}

type Server struct {
	cfg        *config.Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
}

// New wires the middleware chain and routes. The request order is
// request id, audit, panic recovery, ip quota, authentication, then
// credential quota.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{cfg: cfg, deps: deps}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	cfg, deps := s.cfg, s.deps
	clientIP := middleware.ClientIP(cfg.TrustProxy)

	svc := service.NewAccountService(deps.Store, cfg.ClaimBaseURL, deps.Now)

	audit := middleware.NewAuditRecorder(middleware.AuditOptions{
		Sink:      deps.Store,
		Lookup:    deps.Store,
		Hasher:    deps.Hasher,
		ClientIP:  clientIP,
		Scheduler: deps.Scheduler,
		Metrics:   deps.Metrics,
		Now:       deps.Now,
	})

	auth := middleware.NewAuthenticator(middleware.AuthOptions{
		Lookup:        deps.Store,
		Scheduler:     deps.Scheduler,
		ClaimBaseURL:  cfg.ClaimBaseURL,
		TouchLastUsed: cfg.TouchLastUsed(),
		TouchLimiter:  touchLimiter(cfg.TouchRate),
		Metrics:       deps.Metrics,
		Now:           deps.Now,
	})

	quotas := middleware.NewQuotaEnforcer(middleware.QuotaOptions{
		Cache:     deps.Cache,
		Table:     quota.MustCompile(quota.DefaultRules(), quota.DefaultFallback()),
		Lookup:    deps.Store,
		Hasher:    deps.Hasher,
		ClientIP:  clientIP,
		Enforce:   cfg.EnforceQuotas(),
		Timeout:   cfg.CacheTimeout,
		Scheduler: deps.Scheduler,
		Metrics:   deps.Metrics,
		Now:       deps.Now,
	})
	ipQuota := quotas.Middleware(quota.ScopeIP)
	credentialQuota := quotas.Middleware(quota.ScopeCredential)

	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(chimw.RequestID)
	r.Use(audit.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{
			"X-Request-Id", "Retry-After",
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Window", "X-RateLimit-Bypass",
		},
		MaxAge: 300,
	}))

	// --- Operational endpoints ---
	var cachePinger handler.Pinger
	if deps.Cache != nil {
		cachePinger = deps.Cache
	}
	r.Method(http.MethodGet, "/healthz", handler.NewHealthHandler(deps.Store, cachePinger, deps.Version))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	// --- Public API ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireJSON)
		r.Use(ipQuota)

		// Registration and claiming carry no credential.
		r.Group(func(r chi.Router) {
			r.Use(credentialQuota)
			r.Method(http.MethodPost, "/agents/register", handler.NewRegisterHandler(svc))
			r.Method(http.MethodPost, "/agents/claim/{code}", handler.NewClaimHandler(svc))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Optional)
			r.Use(credentialQuota)
			r.Get("/feed", handler.FeedHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Use(credentialQuota)
			r.Method(http.MethodGet, "/agents/me", handler.NewMeHandler(svc))
			r.Get("/agents/status", handler.StatusHandler)
			r.Method(http.MethodPost, "/agents/me/credentials/rotate", handler.NewRotateOwnCredentialHandler(svc))
		})
	})

	// --- Admin API ---
	if deps.Admin != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(httprate.LimitByIP(cfg.AdminRatePerMinute, time.Minute))
			r.Use(deps.Admin.Middleware)
			r.Use(middleware.RequireJSON)

			r.Method(http.MethodGet, "/credentials", admin.NewListCredentialsHandler(svc))
			r.Method(http.MethodPost, "/credentials/{id}/rotate", admin.NewRotateCredentialHandler(svc))
			r.Method(http.MethodDelete, "/credentials/{id}", admin.NewRevokeCredentialHandler(svc))
			r.Method(http.MethodPut, "/credentials/{id}/bypass", admin.NewSetBypassHandler(svc))
			r.Method(http.MethodGet, "/accounts/{id}", admin.NewGetAccountHandler(svc))
			r.Method(http.MethodPost, "/accounts/{id}/credentials", admin.NewIssueCredentialHandler(svc))
		})
	}

	s.router = r
}

// touchLimiter allows perSecond last-used updates with an equal burst.
// Zero disables the limit.
func touchLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("environment", s.cfg.Environment).Msg("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
