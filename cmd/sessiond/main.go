// Command sessiond runs the session control plane: it admits and
// supervises inference worker processes, multiplexes their events to
// subscribers over WebSocket push connections, and enforces output
// retention. Flags and environment are resolved the way the teacher's
// cmd/dev-console binary resolves its own (flag.FlagSet parsed once,
// merged over environment-derived defaults), extended with the layered
// viper-backed configuration internal/config builds on top of it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/loquilex/sessiond/internal/config"
	"github.com/loquilex/sessiond/internal/download"
	"github.com/loquilex/sessiond/internal/httpapi"
	"github.com/loquilex/sessiond/internal/hub"
	applog "github.com/loquilex/sessiond/internal/log"
	"github.com/loquilex/sessiond/internal/metrics"
	"github.com/loquilex/sessiond/internal/models"
	"github.com/loquilex/sessiond/internal/retention"
	"github.com/loquilex/sessiond/internal/session"
	"github.com/loquilex/sessiond/internal/state"
	"github.com/loquilex/sessiond/internal/worker"
)

const (
	retentionSweepInterval = 5 * time.Minute
	// retentionTTLSeconds bounds how long a session's own output files
	// survive after the session last wrote them, per spec.md §4.L.
	retentionTTLSeconds = 24 * 60 * 60
	retentionMaxBytes   = 4 << 30 // 4GiB
)

func main() {
	fs := flag.NewFlagSet("sessiond", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	debug := fs.Bool("debug", false, "Enable debug logging")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Resolve(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: configuration error: %v\n", err)
		os.Exit(2)
	}

	logFile, err := state.DefaultLogFile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: cannot resolve log file: %v\n", err)
		os.Exit(1)
	}
	logger, err := applog.New(logFile, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: cannot init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting sessiond",
		zap.String("out_root", cfg.OutputRoot),
		zap.Int("max_cuda_sessions", cfg.MaxCUDASessions),
		zap.Int("port", cfg.BindPort),
	)

	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		logger.Fatal("cannot create output root", zap.Error(err))
	}

	h := hub.New()

	launch := func(env worker.Env) (*worker.Worker, error) {
		return worker.Spawn(cfg.WorkerCommand, cfg.WorkerArgs, env)
	}
	sv := session.New(cfg.OutputRoot, cfg.MaxCUDASessions, h, launch)
	sv.SetLogger(logger)
	sv.Start()

	asrCacheDir := os.Getenv("LX_ASR_CACHE_DIR")
	mtCacheDir := os.Getenv("LX_MT_CACHE_DIR")
	if asrCacheDir == "" {
		asrCacheDir, _ = state.InRoot("models", "asr")
	}
	if mtCacheDir == "" {
		mtCacheDir, _ = state.InRoot("models", "mt")
	}
	registry := models.NewRegistry(asrCacheDir, mtCacheDir)
	defer registry.Close()

	dl := download.New(h, download.NewHFFetcher(asrCacheDir))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metricsReg := metrics.NewRegistry(promReg)

	stopRetention := make(chan struct{})
	go runRetentionLoop(cfg.OutputRoot, metricsReg, logger, stopRetention)

	server := httpapi.New(sv, h, registry, dl, cfg.OutputRoot, cfg.AdminToken)
	server.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.BindPort)
	httpServer := &http.Server{Addr: addr, Handler: server.Handler(nil)}

	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		logger.Info("http listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", zap.Error(err))
		}
	}()

	awaitShutdown(logger, httpServer, sv, stopRetention, httpDone)
}

func runRetentionLoop(root string, m *metrics.Registry, logger *zap.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	policy := retention.Policy{TTLSeconds: retentionTTLSeconds, MaxBytes: retentionMaxBytes}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			result := retention.Sweep(root, policy, func(path string, err error) {
				logger.Debug("retention: could not delete file", zap.String("path", path), zap.Error(err))
			})
			m.ObserveRetention(result)
			logger.Info("retention sweep", zap.Int("deleted", result.DeletedCount), zap.Int64("remaining_bytes", result.RemainingBytes))
		}
	}
}

// awaitShutdown blocks until a termination signal arrives or the HTTP
// listener dies unexpectedly, then drains sessions and the HTTP server,
// generalizing the teacher's awaitShutdownSignal (main_connection_mcp.go).
func awaitShutdown(logger *zap.Logger, httpServer *http.Server, sv *session.Supervisor, stopRetention chan<- struct{}, httpDone <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-httpDone:
		logger.Warn("http listener exited unexpectedly, shutting down")
	}

	close(stopRetention)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}

	sv.Shutdown()
	logger.Info("sessiond stopped")
}
