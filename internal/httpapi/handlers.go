// Package httpapi exposes the phishing tracker and the risk engine over HTTP
// and serves the gRPC health service.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"awarerisk.org/internal/auth"
	"awarerisk.org/internal/obs"
	"awarerisk.org/internal/phishing"
	"awarerisk.org/internal/risk"
)

const (
	serviceName  = "awarerisk-api"
	maxBodyBytes = 1 << 20
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the configured backing services. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	router    chi.Router
	tracker   *phishing.Tracker
	engine    *risk.Engine
	readiness readinessChecker
	version   string
	logger    *zap.Logger

	devTokens  bool
	rateBurst  int
	ratePerSec int
}

// Option customises an API.
type Option func(*API)

// WithLogger sets the logger used for handler failures.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDevTokens mounts POST /v1/auth/token, which mints tokens without credentials.
func WithDevTokens(enabled bool) Option {
	return func(a *API) { a.devTokens = enabled }
}

// WithRateLimit enables per-client token buckets. Zero burst disables limiting.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

func New(tracker *phishing.Tracker, engine *risk.Engine, rp readinessChecker, version string, opts ...Option) *API {
	a := &API{
		tracker:   tracker,
		engine:    engine,
		readiness: rp,
		version:   version,
		logger:    obs.Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readiness == nil {
		a.readiness = ReadyProbe{}
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(middleware.Recoverer)
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(CORS)
	if a.rateBurst > 0 && a.ratePerSec > 0 {
		burst, perSec := a.rateBurst, a.ratePerSec
		r.Use(func(next http.Handler) http.Handler { return RateLimit(next, burst, perSec) })
	}
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, maxBodyBytes) })

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())
	if a.devTokens {
		r.Post("/v1/auth/token", a.handleAuthToken)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)
		admin := requireRole(auth.RoleAdmin)

		r.With(admin).Post("/v1/campaigns", a.handleCreateCampaign)
		r.With(admin).Post("/v1/campaigns/{campaignID}/events", a.handleRecordEvent)
		r.Get("/v1/campaigns/{campaignID}/stats", a.handleCampaignStats)

		r.Get("/v1/phishing/stats", a.handleTenantStats)
		r.Get("/v1/phishing/vulnerable-users", a.handleVulnerableUsers)
		r.Get("/v1/phishing/best-performers", a.handleBestPerformers)
		r.Get("/v1/phishing/departments", a.handleDepartments)

		r.Get("/v1/users/{userID}/phishing-history", a.handleUserHistory)
		r.Get("/v1/users/{userID}/recommended-difficulty", a.handleRecommendedDifficulty)
		r.With(admin).Post("/v1/users/{userID}/risk-score", a.handleCalculateRisk)
		r.Get("/v1/users/{userID}/risk-score/history", a.handleRiskHistory)

		r.With(admin).Post("/v1/risk/bulk", a.handleBulkRisk)
		r.Get("/v1/risk/high-risk-users", a.handleHighRiskUsers)
		r.Get("/v1/risk/stats", a.handleRiskStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the http.Handler for the server.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readiness.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"weights": a.engine.Weights(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
