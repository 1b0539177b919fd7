// Package devserver is an in-memory implementation of the storefront
// REST API. It backs the integration tests and the `storefront devserver`
// command so the client can be exercised without the real backend.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"storefront/config"
)

type Server struct {
	Shop *Shop

	cfg     config.DevServerConfig
	log     logrus.FieldLogger
	router  *mux.Router
	handler http.Handler
	reg     *prometheus.Registry
	metrics *httpMetrics
}

// New builds a server from cfg. The catalog is loaded from cfg.SeedFile
// or, when unset, from DefaultSeed.
func New(cfg config.DevServerConfig, log logrus.FieldLogger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("devserver: jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	shop := NewShop(cfg.OTP)
	var err error
	if cfg.SeedFile != "" {
		err = shop.LoadSeed(cfg.SeedFile)
	} else {
		err = shop.ApplyDefaultSeed()
	}
	if err != nil {
		return nil, fmt.Errorf("devserver: %w", err)
	}

	s := &Server{
		Shop:   shop,
		cfg:    cfg,
		log:    log,
		router: mux.NewRouter(),
		reg:    prometheus.NewRegistry(),
	}
	s.metrics = newHTTPMetrics(s.reg)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods("GET")
	h := NewHandler(shop, []byte(cfg.JWTSecret), cfg.TokenTTL, log)
	if cfg.AuthRate > 0 {
		h.authLimit = newClientLimiter(cfg.AuthRate, cfg.AuthBurst, log)
	}
	h.RegisterRoutes(s.router)
	s.handler = s.instrument(s.router)
	return s, nil
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("devserver listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("devserver: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("devserver: shutdown: %w", err)
	}
	s.log.Info("devserver stopped")
	return nil
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront_devserver",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "storefront_devserver",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// unmatchedRoute labels requests no route accepted (404 and 405).
const unmatchedRoute = "unmatched"

// instrument records metrics and a log line per request, labelled by the
// matched route template so ids do not explode label cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := unmatchedRoute
		var match mux.RouteMatch
		if s.router.Match(r, &match) && match.Route != nil {
			if tpl, err := match.Route.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if route == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		s.metrics.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.metrics.duration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"route":      route,
			"status":     rec.status,
			"duration":   elapsed,
			"request_id": r.Header.Get("X-Request-ID"),
		}).Debug("handled")
	})
}
