package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/wellspend/pkg/interceptors"
)

const shutdownTimeout = 15 * time.Second

// NewRouter assembles the public HTTP surface. Everything except /healthz
// requires a bearer token.
func NewRouter(d *Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(interceptors.NewLogging(d.Logger, interceptors.WithIgnorePath("/healthz")))
	r.Use(middleware.Recoverer)
	r.Use(d.Telemetry.Instrument)
	r.Use(interceptors.NewCORS(d.Config.Server.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		interceptors.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(d.Authenticator.Middleware)
		r.Use(d.RateLimiter.Middleware)
		d.IngestHandler.Routes(r)
	})

	return r
}

// NewServer returns the API server bound to the configured address.
func NewServer(d *Dependencies) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(d.Config.Server.Host, strconv.Itoa(d.Config.Server.Port)),
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       d.Config.Server.ReadTimeout,
		WriteTimeout:      d.Config.Server.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(d.Logger.Handler(), slog.LevelError),
	}
}

// NewMetricsServer exposes Prometheus metrics on their own port. It returns
// nil when metrics are disabled.
func NewMetricsServer(d *Dependencies) *http.Server {
	if d.Telemetry == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.Telemetry.Handler())
	return &http.Server{
		Addr:              net.JoinHostPort(d.Config.Server.Host, strconv.Itoa(d.Config.Observability.MetricsPort)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs the API server, the metrics server and the sweeper until ctx is
// cancelled, then shuts them down.
func Serve(ctx context.Context, d *Dependencies) error {
	if d.Authenticator == nil {
		return errors.New("jwt secret is required")
	}

	servers := []*http.Server{NewServer(d)}
	if ms := NewMetricsServer(d); ms != nil {
		servers = append(servers, ms)
	}

	if d.Scheduler != nil {
		if err := d.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() { <-d.Scheduler.Stop().Done() }()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			d.Logger.Info("http server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shut down %s: %w", srv.Addr, err))
			}
		}
		d.Logger.Info("http servers stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}
