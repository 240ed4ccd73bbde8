// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implementa o servidor de arquivos compartilhado (nfilehub-server).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/nishisan-dev/n-filehub/internal/config"
)

// Handler processa conexões individuais e carrega o estado
// compartilhado entre sessões.
type Handler struct {
	cfg    *config.ServerConfig
	logger *slog.Logger
	locks  *LockRegistry

	// Sessões vivas: sessionID → time.Time de criação.
	// Consultado pelo janitor para não varrer staging de sessão ativa.
	liveSessions sync.Map

	// Métricas observáveis pelo stats reporter
	TrafficIn   atomic.Int64 // bytes recebidos da rede (acumulado desde último reset)
	TrafficOut  atomic.Int64 // bytes servidos em downloads
	DiskWrite   atomic.Int64 // bytes escritos em staging
	ActiveConns atomic.Int32 // conexões ativas no momento

	diskFree atomic.Int64 // snapshot do disco livre do volume do store
}

// NewHandler cria um novo Handler.
func NewHandler(cfg *config.ServerConfig, logger *slog.Logger, locks *LockRegistry) *Handler {
	return &Handler{
		cfg:    cfg,
		logger: logger,
		locks:  locks,
	}
}

// DiskFree retorna o último snapshot de bytes livres no volume do store.
func (h *Handler) DiskFree() int64 {
	return h.diskFree.Load()
}

// LiveSessionIDs retorna os IDs das sessões atualmente conectadas.
func (h *Handler) LiveSessionIDs() map[string]bool {
	ids := make(map[string]bool)
	h.liveSessions.Range(func(key, _ any) bool {
		ids[key.(string)] = true
		return true
	})
	return ids
}

// refreshDiskFree atualiza o snapshot de disco livre via gopsutil.
func (h *Handler) refreshDiskFree() {
	usage, err := disk.Usage(h.cfg.Store.Root)
	if err != nil {
		h.logger.Debug("collecting disk usage", "error", err)
		return
	}
	h.diskFree.Store(int64(usage.Free))
}

// StartStatsReporter imprime métricas do server a cada 15 segundos:
// conexões ativas, traffic in/out (MB/s), disk write (MB/s), sessões
// abertas, disco livre e load average.
func (h *Handler) StartStatsReporter(ctx context.Context) {
	const interval = 15 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.refreshDiskFree()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			secs := interval.Seconds()

			// Swap-and-reset: lê o acumulado e zera
			trafficIn := h.TrafficIn.Swap(0)
			trafficOut := h.TrafficOut.Swap(0)
			diskWrite := h.DiskWrite.Swap(0)
			conns := h.ActiveConns.Load()

			var sessionCount int
			h.liveSessions.Range(func(_, _ any) bool {
				sessionCount++
				return true
			})

			h.refreshDiskFree()

			loadAvg := 0.0
			if l, err := load.Avg(); err == nil {
				loadAvg = l.Load1
			}

			h.logger.Info("server stats",
				"conns", conns,
				"sessions", sessionCount,
				"traffic_in_MBps", fmt.Sprintf("%.2f", float64(trafficIn)/secs/(1024*1024)),
				"traffic_out_MBps", fmt.Sprintf("%.2f", float64(trafficOut)/secs/(1024*1024)),
				"disk_write_MBps", fmt.Sprintf("%.2f", float64(diskWrite)/secs/(1024*1024)),
				"disk_free_MB", h.diskFree.Load()/(1024*1024),
				"load_1m", fmt.Sprintf("%.2f", loadAvg),
			)
		}
	}
}
