// Command enclave runs the confidential-compute HTTP surface described in
// spec.md §6: five operations over a sealed, append-only JSON data pool,
// each gated by a DRT-redemption check before any other work happens.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/enclave/pkg/api"
	"github.com/Mindburn-Labs/enclave/pkg/artifacts"
	"github.com/Mindburn-Labs/enclave/pkg/config"
	"github.com/Mindburn-Labs/enclave/pkg/drt"
	"github.com/Mindburn-Labs/enclave/pkg/engine"
	"github.com/Mindburn-Labs/enclave/pkg/poolstore"
	"github.com/Mindburn-Labs/enclave/pkg/router"
	"github.com/Mindburn-Labs/enclave/pkg/sealing"
)

func main() {
	os.Exit(run())
}

func run() int {
	log.Println("[enclave] kernel starting")

	configPath := flag.String("config", "", "path to a deploy/enclave.yaml descriptor (optional; env vars still win)")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.LoadWithFile(*configPath)
		if err != nil {
			log.Printf("[enclave] failed to load -config %s: %v", *configPath, err)
			return 1
		}
		cfg = loaded
	} else {
		cfg = config.Load()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// 1. Sealing root: read once from the attestation-key surface, never
	// copied elsewhere (spec.md §4.1, §5).
	rawRoot, err := os.ReadFile(cfg.AttestationRootPath)
	if err != nil {
		logger.Error("failed to read attestation root", "path", cfg.AttestationRootPath, "error", err)
		return 1
	}
	root, err := sealing.NewRoot(rawRoot)
	if err != nil {
		logger.Error("invalid attestation root", "error", err)
		return 1
	}
	sealer := sealing.NewCore(root)
	logger.Info("sealing core ready")

	// 2. PoolStore: local filesystem backend rooted at the fixed pool-blob
	// path (spec.md §6).
	pools, err := poolstore.NewFileStore(cfg.PoolBlobRoot)
	if err != nil {
		logger.Error("failed to init pool store", "error", err)
		return 1
	}
	logger.Info("pool store ready", "root", cfg.PoolBlobRoot)

	// 3. ArtifactFetcher: TLS over system trust anchors, scratch directory
	// owned by this process (spec.md §4.4).
	fetcher, err := artifacts.NewFetcher(cfg.ScratchDir)
	if err != nil {
		logger.Error("failed to init artifact fetcher", "error", err)
		return 1
	}
	logger.Info("artifact fetcher ready", "scratch", cfg.ScratchDir)

	// 4. DRT authorizer: the on-chain token program is out of scope
	// (spec.md §1); this process only speaks the redemption interface.
	authz := drt.NewStubAuthorizer()

	eng := engine.New(sealer, pools, fetcher, authz)

	limiter := api.NewGlobalRateLimiter(50, 100)
	handler := limiter.Middleware(router.New(eng))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ready", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}
