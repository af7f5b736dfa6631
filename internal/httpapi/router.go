// Package httpapi serves cache state, health and Prometheus metrics over
// HTTP.
//
// Routes:
//
//	GET  /healthz                              liveness and detector health
//	GET  /metrics                              Prometheus metrics
//	GET  /api/v1/dataset                       dataset snapshot summary
//	GET  /api/v1/detectors                     registered detectors
//	GET  /api/v1/detectors/{name}/frames/{i}   frames of one input
//	GET  /api/v1/report                        last pass report
//	POST /api/v1/compute                       run a pass
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/logging"
)

// API serves one cache.
type API struct {
	cache *bench.Cache
	log   zerolog.Logger
}

// New returns an API over cache.
func New(cache *bench.Cache) *API {
	return &API{cache: cache, log: logging.Component("http")}
}

// Handler returns the routed handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/dataset", a.dataset)
		r.Get("/detectors", a.detectors)
		r.Get("/detectors/{name}/frames/{input}", a.frames)
		r.Get("/report", a.report)
		r.Post("/compute", a.compute)
	})

	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (a *API) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (a *API) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	a.log.Info().Str("addr", ln.Addr().String()).Msg("http listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
