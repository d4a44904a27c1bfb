// Command mirrorgate runs the allowlisted mirroring proxy: one HTTP listener
// serving the launcher, the resolve API, mirrored content, and the token-gated
// internal admin surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/docxology/mirrorgate/internal/allowlist"
	"github.com/docxology/mirrorgate/internal/api"
	"github.com/docxology/mirrorgate/internal/audit"
	"github.com/docxology/mirrorgate/internal/config"
	"github.com/docxology/mirrorgate/internal/filecache"
	"github.com/docxology/mirrorgate/internal/guard"
	"github.com/docxology/mirrorgate/internal/httpx"
	"github.com/docxology/mirrorgate/internal/mirror"
	"github.com/docxology/mirrorgate/internal/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mirrorgate:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	reg, err := registry.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer reg.Close()

	allow, err := allowlist.Open(cfg.AllowlistPath)
	if err != nil {
		return fmt.Errorf("opening allowlist: %w", err)
	}

	cache, err := filecache.New(cfg.CacheDir, cfg.CacheTTL(), int64(cfg.CacheMaxBytes),
		logger.With(slogutil.KeyPrefix, "filecache"))
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}

	events, err := audit.New(reg, cfg.LogFile, logger.With(slogutil.KeyPrefix, "audit"))
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer events.Close()

	svc := mirror.New(mirror.Options{
		Registry:        reg,
		Allowlist:       allow,
		Cache:           cache,
		Guard:           &guard.Guard{AllowHTTP: cfg.EnableHTTP},
		Events:          events,
		Logger:          logger.With(slogutil.KeyPrefix, "mirror"),
		UpstreamTimeout: cfg.UpstreamTimeout(),
		MaxHTMLBytes:    int64(cfg.MaxHTMLBytes),
		MaxBinaryBytes:  int64(cfg.MaxBinaryBytes),
		StartDisabled:   cfg.DisableService,
	})

	mux := api.Router(api.Deps{
		Mirror:        svc,
		Registry:      reg,
		Allowlist:     allow,
		Cache:         cache,
		Events:        events,
		Logger:        logger,
		Token:         cfg.InternalToken,
		PublicBaseURL: cfg.PublicBaseURL,
	})

	handler := httpx.RequestID(httpx.Logging(logger.With(slogutil.KeyPrefix, "http"))(mux))

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("listening", "addr", cfg.ListenAddr(), "serviceDisabled", svc.Disabled())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	format := slogutil.FormatText
	if cfg.LogFormat == "json" {
		format = slogutil.FormatJSON
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slogutil.New(&slogutil.Config{
		Format:       format,
		AddTimestamp: true,
		Level:        level,
	})
}
