// Command taskit-frontend is a small interactive/CLI client: it
// registers the backends named on the command line or in
// TASKIT_BACKENDS, waits for at least one to answer a <status> probe,
// then dispatches whatever task/args are given as positional arguments.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pydsigner/taskit/internal/adminhttp"
	"github.com/pydsigner/taskit/internal/config"
	"github.com/pydsigner/taskit/internal/frontend"
	"github.com/pydsigner/taskit/internal/tlog"
)

func main() {
	var (
		backendsFlag = flag.String("backends", "", "comma-separated host[:port] list (overrides TASKIT_BACKENDS)")
		adminPort    = flag.Int("admin-port", 0, "admin diagnostics port (0 uses TASKIT_ADMIN_PORT)")
		waitTimeout  = flag.Duration("wait", 10*time.Second, "how long to wait for a backend to become reachable at startup")
	)
	flag.Parse()

	cfg := config.Load()
	if *backendsFlag != "" {
		cfg.Backends = splitCSV(*backendsFlag)
	}
	if *adminPort != 0 {
		cfg.AdminPort = *adminPort
	}
	if len(cfg.Backends) == 0 {
		log.Fatal("taskit-frontend: no backends configured (use -backends or TASKIT_BACKENDS)")
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("taskit-frontend: build logger: %v", err)
	}
	defer zlog.Sync()
	logger := tlog.NewZap(zlog)

	backends := make([]frontend.Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		parsed, err := frontend.ParseBackend(b)
		if err != nil {
			log.Fatalf("taskit-frontend: %v", err)
		}
		backends = append(backends, parsed)
	}

	f, err := frontend.New(frontend.Config{
		Logger:         logger,
		DataSize:       cfg.DataSize,
		DialTimeout:    cfg.DialTimeout,
		ErrorCacheSize: cfg.ErrorCacheSize,
	}, backends...)
	if err != nil {
		log.Fatalf("taskit-frontend: construct frontend: %v", err)
	}

	if err := waitForBackend(f, *waitTimeout); err != nil {
		log.Fatalf("taskit-frontend: %v", err)
	}

	admin := adminhttp.New(f).WithLogger(zlog)
	admin.Start(5 * time.Second)
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AdminPort),
		Handler: admin.Router(promhttp.HandlerFor(f.Registry(), promhttp.HandlerOpts{})),
	}
	go func() {
		logger.Log(tlog.IMPORTANT, "taskit-frontend: admin server listening", zap.Int("port", cfg.AdminPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log(tlog.ERROR, "taskit-frontend: admin server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
		admin.Stop()
	}()

	args := flag.Args()
	if len(args) == 0 {
		log.Fatal("taskit-frontend: usage: taskit-frontend [flags] <task> [json-args]")
	}
	task := args[0]
	var taskArgs []any
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &taskArgs); err != nil {
			log.Fatalf("taskit-frontend: parse task args as a JSON array: %v", err)
		}
	}

	result, err := f.Work(context.Background(), task, taskArgs, nil)
	if err != nil {
		log.Fatalf("taskit-frontend: task failed: %v", err)
	}

	enc, err := json.Marshal(result)
	if err != nil {
		log.Fatalf("taskit-frontend: encode result: %v", err)
	}
	fmt.Println(string(enc))
}

// waitForBackend retries a lightweight <status> probe against every
// registered backend until one answers or timeout elapses. This is the
// only place backoff/v4 is used: startup-only retry, never inside the
// hot dispatch path in internal/frontend.
func waitForBackend(f *frontend.FrontEnd, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second

	operation := func() error {
		_, err := f.Work(context.Background(), backendStatusTask, nil, nil)
		return err
	}
	return backoff.Retry(operation, b)
}

const backendStatusTask = "<status>"

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
