package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xelth-com/eckposgo/internal/handlers"
	"github.com/xelth-com/eckposgo/internal/sync"
	"github.com/xelth-com/eckposgo/internal/websocket"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the conflict API with periodic sweeps and purges",
		Long: "Serves the conflict HTTP API and event stream. When CONFLICT_AUTO_RESOLVE_INTERVAL or\n" +
			"CONFLICT_PURGE_INTERVAL are non-zero, sweeps and retention purges run on those intervals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var hub *websocket.Hub
	e, err := openEngine(opts, reg, func(log *zap.Logger) sync.Notifier {
		hub = websocket.NewHub(log)
		return hub
	})
	if err != nil {
		return err
	}
	defer e.Close()

	if e.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to serve the API")
	}

	go hub.Run()
	defer hub.Stop()

	router := handlers.NewRouter(handlers.Options{
		Resolver:  e.resolver,
		Batch:     e.batch,
		Hub:       hub,
		Gatherer:  reg,
		JWTSecret: e.cfg.JWTSecret,
		Conflicts: e.cfg.Conflicts,
		Logger:    e.log,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg stdsync.WaitGroup
	if interval := e.cfg.Conflicts.AutoResolveInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, interval, func(ctx context.Context) {
				if _, err := e.batch.AutoResolveAll(ctx); err != nil {
					e.log.Warn("scheduled sweep finished with errors", zap.Error(err))
				}
			})
		}()
		e.log.Info("⏰ Auto-resolve sweep scheduled", zap.Duration("interval", interval))
	}
	if interval := e.cfg.Conflicts.PurgeInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, interval, func(ctx context.Context) {
				cutoff := e.cfg.Conflicts.RetentionCutoff(time.Now().UTC())
				if _, err := e.batch.PurgeResolved(ctx, cutoff); err != nil {
					e.log.Warn("scheduled purge finished with errors", zap.Error(err))
				}
			})
		}()
		e.log.Info("⏰ Retention purge scheduled",
			zap.Duration("interval", interval), zap.Int("retention_days", e.cfg.Conflicts.RetentionDays))
	}

	server := &http.Server{
		Addr:    ":" + e.cfg.Port,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		e.log.Info("🚀 Server starting", zap.String("port", e.cfg.Port), zap.String("env", e.cfg.NodeEnv))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		e.log.Info("⚠️ Shutting down gracefully...")
	case err := <-serveErr:
		stop()
		wg.Wait()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		e.log.Warn("HTTP server shutdown error", zap.Error(err))
	}
	wg.Wait()

	e.log.Info("✅ Shutdown complete")
	return nil
}

// every calls fn on each tick until ctx is done
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
