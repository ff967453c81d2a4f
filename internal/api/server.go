// Package api serves read-only views of the core policy and product tables.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/db"
)

// Options configures the router.
type Options struct {
	CORSOrigins    []string
	Cache          Cache
	CacheTTL       time.Duration
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Server holds handler dependencies.
type Server struct {
	q   db.Querier
	now func() time.Time
}

// NewRouter builds the HTTP handler for the read API.
func NewRouter(q db.Querier, opts Options) http.Handler {
	s := &Server{q: q, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Use(cached(opts.Cache, opts.CacheTTL))

		r.Get("/policy", s.listPolicies)
		r.Get("/policy/{id}", s.getPolicy)

		r.Get("/finproduct/list", s.listProducts)
		r.Get("/finproduct/filter/bank", s.listBanks)
		r.Get("/finproduct/{id}", s.getProduct)

		r.Get("/master/{kind}", s.listMaster)
	})

	return r
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", requestID(r)),
		)
	})
}
