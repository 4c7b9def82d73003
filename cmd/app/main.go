package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"smartcompress/internal/config"
	"smartcompress/internal/handler"
	"smartcompress/internal/logger"
	"smartcompress/internal/metrics"
	"smartcompress/internal/middleware"
	"smartcompress/internal/requestip"
	"smartcompress/web"
)

func main() {
	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg, log)
	stop()
	if err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or the listener fails. Handler resources
// are released before it returns.
func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	resolver, err := requestip.NewResolver(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.WithError(err).Warn("invalid TRUSTED_PROXY_CIDRS, forwarded headers will be ignored")
		resolver = nil
	}

	h := handler.New(web.EmbedFS, cfg, metrics.New(), log, resolver)
	defer h.Close()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(log, resolver))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", cfg.ServerAddr).Info("starting smart image compressor")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return errors.Wrap(srv.Shutdown(shutdownCtx), "shutdown")
	})

	return g.Wait()
}
