// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"libraledger/internal/audit"
	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
	"libraledger/internal/config"
	"libraledger/internal/journal"
	"libraledger/internal/store"
	"libraledger/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("LIBRALEDGER_CONFIG"), "path to YAML config")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if err := run(*configPath, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "libraledger: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.Logging.Level, verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	catalogSvc := catalog.NewService(backend.Catalog(),
		catalog.WithLogger(logger.Named("catalog")),
		catalog.WithAccessionWidth(cfg.Catalog.AccessionWidth),
	)
	circulationSvc := circulation.NewService(backend.Circulation(),
		circulation.WithPolicy(policy),
		circulation.WithLogger(logger.Named("circulation")),
		circulation.WithPageSize(cfg.Circulation.PageSize),
	)
	auditor := audit.NewAuditor(backend.Catalog(),
		audit.WithLogger(logger.Named("audit")),
		audit.WithSampleSize(cfg.Audit.SampleSize),
	)
	scheduler := audit.NewScheduler(auditor, cfg.Audit.ReportPath, logger.Named("audit"))
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(1, cfg.Audit.OnDemandPerMinute))), 1)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Route("/catalog", catalog.NewHandler(catalogSvc).Routes)
	r.Route("/circulation", circulation.NewHandler(circulationSvc).Routes)
	r.Route("/audit", audit.NewHandler(auditor, limiter, scheduler).Routes)
	r.Get("/journal", journal.NewHandler(backend).HandleStream)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("libraledger listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx, cfg.AuditInterval())
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(ctx)
	})

	return g.Wait()
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
