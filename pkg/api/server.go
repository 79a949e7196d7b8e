package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/portal/pkg/activity"
	"github.com/platinummonkey/portal/pkg/gate"
	"github.com/platinummonkey/portal/pkg/graph"
	"github.com/platinummonkey/portal/pkg/httputil"
	"github.com/platinummonkey/portal/pkg/middleware"
	"github.com/platinummonkey/portal/pkg/observability"
)

// ProfileSource looks up directory profiles. *graph.Client satisfies it.
type ProfileSource interface {
	Profile(ctx context.Context, email string) (*graph.Profile, error)
}

// ActivityLister lists recent sign-ins. *activity.PostgresStore satisfies it.
type ActivityLister interface {
	List(ctx context.Context, limit int) ([]activity.Entry, error)
}

// Options are the dependencies of a Server. Verifier and Resolver are
// required; everything else is optional.
type Options struct {
	Verifier middleware.TokenVerifier
	Resolver gate.Resolver

	// Routes gates the static bundle. Nil disables static serving.
	Routes    gate.RequirementsSource
	StaticDir string

	Profiles  ProfileSource
	Activity  ActivityLister
	RateLimit *middleware.RateLimitMiddleware

	CORSOrigins []string
	TokenCookie string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the portal HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	opts    Options
	logger  *observability.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		logger: logger,
	}
	s.setupRoutes()

	authOpts := []middleware.AuthOption{middleware.WithAuthLogger(logger)}
	if opts.TokenCookie != "" {
		authOpts = append(authOpts, middleware.WithTokenCookie(opts.TokenCookie))
	}
	// Optional so that gated pages can answer anonymous browsers themselves
	auth := middleware.NewAuthenticator(opts.Verifier, true, authOpts...)

	chain := []func(http.Handler) http.Handler{
		middleware.RequestID(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.AccessLogMiddleware,
		httputil.CORSMiddleware(opts.CORSOrigins),
		auth.Handler,
	}
	if opts.RateLimit != nil {
		chain = append(chain, opts.RateLimit.Handler)
	}

	s.handler = otelhttp.NewHandler(httputil.Chain(chain...)(s.router), "portal")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics))
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(middleware.RequireSession)

	api.HandleFunc("/me", s.getMe).Methods(http.MethodGet)
	api.HandleFunc("/me/role", s.getMyRole).Methods(http.MethodGet)
	api.HandleFunc("/me/profile", s.getMyProfile).Methods(http.MethodGet)
	api.Handle("/access/check",
		httputil.MaxBytesMiddleware(httputil.MaxJSONBody)(http.HandlerFunc(s.checkAccess)),
	).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.gated(gate.Static(loginActivityRequirements)))
	admin.HandleFunc("/login-activity", s.listLoginActivity).Methods(http.MethodGet)

	if s.opts.Routes != nil && s.opts.StaticDir != "" {
		s.router.PathPrefix("/").Handler(s.staticHandler())
	}
}

func (s *Server) gated(source gate.RequirementsSource) mux.MiddlewareFunc {
	return mux.MiddlewareFunc(gate.Middleware(s.opts.Resolver, source,
		gate.WithMiddlewareLogger(s.logger),
		gate.WithMiddlewareMetrics(s.opts.Metrics),
	))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional registrations
func (s *Server) Router() *mux.Router {
	return s.router
}

// NewHealthRouter serves the health checks and the Prometheus registry on the
// health port. registry may be nil when metrics are disabled.
func NewHealthRouter(checker *observability.HealthChecker, registry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	return router
}
