package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/internal/middleware"
	"github.com/mir00r/domain-router/pkg/logger"
)

// RouterConfig selects the optional parts of the admin router
type RouterConfig struct {
	// AdminPath prefixes every domain routing endpoint, e.g. "/api/v1"
	AdminPath string
	// RateLimiter, when set, limits every request per client IP
	RateLimiter *middleware.RateLimiter
	// Auth, when set, requires a bearer token outside the health probes
	Auth *middleware.JWTAuthMiddleware
	// Metrics, when set, is served at MetricsPath
	Metrics     http.Handler
	MetricsPath string
}

// NewRouter assembles the admin API: health probes, metrics and the domain
// routing endpoints behind the middleware chain
func NewRouter(cfg RouterConfig, admin *AdminHandler, health *HealthHandler, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}

	router := mux.NewRouter()
	router.HandleFunc("/health/live", health.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", health.ReadinessHandler).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, cfg.Metrics).Methods(http.MethodGet)
	}

	// subrouters do not inherit the fallbacks; set them before registering
	setFallbacks(router)
	prefix := "/" + strings.Trim(cfg.AdminPath, "/")
	if prefix == "/" {
		admin.RegisterRoutes(router)
	} else {
		admin.RegisterRoutes(setFallbacks(router.PathPrefix(prefix).Subrouter()))
	}

	// outermost first
	middlewares := []func(http.Handler) http.Handler{
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
		middleware.SecurityHeadersMiddleware(),
	}
	if cfg.RateLimiter != nil {
		middlewares = append(middlewares, cfg.RateLimiter.RateLimitMiddleware())
	}
	if cfg.Auth != nil {
		middlewares = append(middlewares, cfg.Auth.JWTAuth())
	}

	var final http.Handler = router
	for i := len(middlewares) - 1; i >= 0; i-- {
		final = middlewares[i](final)
	}
	return final
}

// setFallbacks answers unknown paths and wrong methods on router with
// RoutingErrors
func setFallbacks(router *mux.Router) *mux.Router {
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, notFound(r))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, methodNotAllowed(r))
	})
	return router
}

func notFound(r *http.Request) error {
	return lberrors.NewError(lberrors.ErrCodeRouteNotFound, adminComponent, "no endpoint at "+r.URL.Path).
		WithMetadata("path", r.URL.Path)
}

func methodNotAllowed(r *http.Request) error {
	return lberrors.NewError(lberrors.ErrCodeMethodNotAllowed, adminComponent, r.Method+" is not allowed on "+r.URL.Path).
		WithMetadata("method", r.Method)
}
