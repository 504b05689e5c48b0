package api

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/zkchat/zkauth/auth"
	"github.com/zkchat/zkauth/internal/util"
	"github.com/zkchat/zkauth/storage"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	accounts *auth.CredentialStore
	sessions *auth.SessionManager
	tokens   *auth.TokenIssuer

	audit   *auditLogger
	trail   *auditTrail
	metrics *metricsCollector

	rateLimiter      *backoffLimiter
	ipLimiter        *backoffLimiter
	globalLimiter    *windowLimiter
	regIPLimiter     *backoffLimiter
	regGlobalLimiter *windowLimiter

	trustedProxies []netip.Prefix
	logger         *slog.Logger
	alertFn        AlertFunc
	auditRepo      storage.Repository
	auditMaxAge    time.Duration
	auditMaxCount  int
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithTokenIssuer sets the signer for admission tokens. If not set, a
// random per-process secret is used.
func WithTokenIssuer(t *auth.TokenIssuer) Option {
	return func(a *API) {
		a.tokens = t
	}
}

// WithAlertFunc registers a callback for anomaly alerts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditRepository persists audit entries in repo so they can be
// listed through GET /api/audit. Without it the trail lives in memory.
func WithAuditRepository(repo storage.Repository) Option {
	return func(a *API) {
		a.auditRepo = repo
	}
}

// WithAuditRetention bounds the persisted audit trail by age and count.
// Zero disables a limit.
func WithAuditRetention(maxAge time.Duration, maxEntries int) Option {
	return func(a *API) {
		a.auditMaxAge = maxAge
		a.auditMaxCount = maxEntries
	}
}

// WithTrustedProxies configures the CIDR ranges whose proxy headers are
// honored when determining the client IP. Bare IPs are treated as /32 or
// /128.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance.
func New(accounts *auth.CredentialStore, sessions *auth.SessionManager, opts ...Option) (*API, error) {
	a := &API{
		accounts:         accounts,
		sessions:         sessions,
		rateLimiter:      newLoginRateLimiter(),
		ipLimiter:        newIPRateLimiter(),
		globalLimiter:    newGlobalRateLimiter(),
		regIPLimiter:     newRegistrationIPLimiter(),
		regGlobalLimiter: newRegistrationGlobalLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.tokens == nil {
		secret, err := util.RandomBytes(32)
		if err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
		if a.tokens, err = auth.NewTokenIssuer(secret, auth.DefaultTokenTTL); err != nil {
			return nil, err
		}
	}

	a.trail = newAuditTrail(a.auditRepo, a.auditMaxAge, a.auditMaxCount)
	a.metrics = newMetricsCollector(a.alertFn)
	a.audit = newAuditLogger(a.logger, a.trail)
	a.audit.metrics = a.metrics

	sessions.OnExpire(func(s auth.AuthSession) {
		a.audit.logExpiry(s)
	})
	return a, nil
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/health", a.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/yaml")
			w.Write(openapiSpec)
		})
		r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
			SpecURL: "/api/openapi.yaml",
			Path:    "api/docs",
		}, nil))
		r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
			SpecURL: "/api/openapi.yaml",
			Path:    "api/redoc",
		}, nil))

		r.Post("/register", a.Register)
		r.Post("/login", a.Login)
		r.Post("/challenge", a.Challenge)
		r.Post("/zkp-auth", a.ZKPAuth)
		r.Post("/logout", a.Logout)
		r.Get("/users", a.Users)
		r.Get("/sessions/{sessionID}", a.SessionStatus)
		r.Get("/audit", a.ListAudit)
	})

	return r
}

// Sweep discards expired sessions and stale rate-limit records. The server
// calls it periodically.
func (a *API) Sweep() int {
	a.rateLimiter.sweep()
	a.ipLimiter.sweep()
	a.regIPLimiter.sweep()
	return a.sessions.Sweep()
}
