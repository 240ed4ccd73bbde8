// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/n-filehub/internal/archive"
	"github.com/nishisan-dev/n-filehub/internal/config"
)

// Run inicia o servidor de arquivos e bloqueia até o context ser cancelado.
func Run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Store.Root, 0755); err != nil {
		return fmt.Errorf("creating store root: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Listen, err)
	}
	defer ln.Close()

	logger.Info("server listening", "address", cfg.Server.Listen, "root", cfg.Store.Root)

	return RunWithListener(ctx, ln, cfg, logger)
}

// RunWithListener inicia o servidor com um listener já existente (para testes).
func RunWithListener(ctx context.Context, ln net.Listener, cfg *config.ServerConfig, logger *slog.Logger) error {
	locks := NewLockRegistry()
	handler := NewHandler(cfg, logger, locks)

	// Jobs agendados: janitor de staging órfão e snapshots do store.
	scheduler := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	janitor := NewJanitor(cfg, handler, logger)
	if _, err := scheduler.AddFunc(cfg.Janitor.Schedule, janitor.Sweep); err != nil {
		return fmt.Errorf("scheduling janitor: %w", err)
	}

	if cfg.Snapshot.Enabled {
		snapshotter, err := archive.NewSnapshotter(cfg, logger)
		if err != nil {
			return fmt.Errorf("creating snapshotter: %w", err)
		}
		if _, err := scheduler.AddFunc(cfg.Snapshot.Schedule, func() {
			if err := snapshotter.Run(ctx); err != nil {
				logger.Error("snapshot failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduling snapshot: %w", err)
		}
		logger.Info("snapshots enabled", "schedule", cfg.Snapshot.Schedule, "compression", cfg.Snapshot.Compression)
	}

	scheduler.Start()
	defer scheduler.Stop()

	// Stats reporter — imprime métricas a cada 15s
	go handler.StartStatsReporter(ctx)

	// Goroutine para fechar o listener quando o context for cancelado
	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		ln.Close()
	}()

	// Accept loop com backoff para prevenir hot loop em erros consecutivos
	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info("server shutdown complete")
				return nil
			default:
				consecutiveErrors++
				logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		go handler.HandleConnection(ctx, conn)
	}
}
