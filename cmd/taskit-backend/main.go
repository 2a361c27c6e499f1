// Command taskit-backend runs a standalone TaskIt backend: a task
// registry served over the First-Bytes TCP protocol, with the usual
// admin diagnostics surface mounted alongside it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pydsigner/taskit/examples/tasks"
	"github.com/pydsigner/taskit/internal/adminhttp"
	"github.com/pydsigner/taskit/internal/audit"
	"github.com/pydsigner/taskit/internal/backend"
	"github.com/pydsigner/taskit/internal/config"
	"github.com/pydsigner/taskit/internal/tlog"
)

func main() {
	var (
		port      = flag.Int("port", 0, "listen port (0 uses TASKIT_PORT or the default)")
		adminPort = flag.Int("admin-port", 0, "admin diagnostics port (0 uses TASKIT_ADMIN_PORT)")
	)
	flag.Parse()

	cfg := config.Load()
	if *port != 0 {
		cfg.Port = *port
	}
	if *adminPort != 0 {
		cfg.AdminPort = *adminPort
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("taskit-backend: build logger: %v", err)
	}
	defer zlog.Sync()
	logger := tlog.NewZap(zlog)

	store, closeStore, err := buildAuditStore(cfg)
	if err != nil {
		log.Fatalf("taskit-backend: audit store: %v", err)
	}
	defer closeStore()

	b, err := backend.New(backend.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Logger:   logger,
		EndResp:  cfg.EndResp,
		DataSize: cfg.DataSize,
		Audit:    store,
	}, tasks.Registry())
	if err != nil {
		log.Fatalf("taskit-backend: construct backend: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	admin := adminhttp.New(b).WithLogger(zlog)
	admin.Start(5 * time.Second)
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AdminPort),
		Handler: admin.Router(promhttp.HandlerFor(b.Registry(), promhttp.HandlerOpts{})),
	}
	go func() {
		logger.Log(tlog.IMPORTANT, "taskit-backend: admin server listening", zap.Int("port", cfg.AdminPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log(tlog.ERROR, "taskit-backend: admin server failed", zap.Error(err))
		}
	}()

	serveDone := make(chan struct{})
	go func() {
		if err := b.Serve(ctx); err != nil {
			logger.Log(tlog.ERROR, "taskit-backend: serve failed", zap.Error(err))
		}
		close(serveDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Log(tlog.IMPORTANT, "taskit-backend: shutting down")
	cancel()
	<-serveDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = adminSrv.Shutdown(shutdownCtx)
	admin.Stop()
}

func buildAuditStore(cfg *config.Config) (audit.Store, func(), error) {
	switch cfg.AuditDriver {
	case "sqlite":
		store, err := audit.NewSQLiteStore(cfg.AuditDSN)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, err := audit.NewPostgresStore(context.Background(), cfg.AuditDSN)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return audit.Noop{}, func() {}, nil
	}
}
