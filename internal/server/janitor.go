// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nishisan-dev/n-filehub/internal/config"
)

// Janitor remove áreas de staging órfãs — deixadas por um processo
// anterior que morreu sem limpar, ou por qualquer falha em que o
// cleanup de desconexão não rodou. Sessões vivas nunca são tocadas;
// órfãs só são removidas depois do TTL, para não competir com uma
// sessão legítima de longa duração após restart.
type Janitor struct {
	cfg     *config.ServerConfig
	handler *Handler
	logger  *slog.Logger
}

// NewJanitor cria um Janitor para o store configurado.
func NewJanitor(cfg *config.ServerConfig, handler *Handler, logger *slog.Logger) *Janitor {
	return &Janitor{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "janitor"),
	}
}

// Sweep varre root/.staging e remove diretórios sem sessão viva cuja
// última modificação excede o TTL configurado.
func (j *Janitor) Sweep() {
	stagingRoot := filepath.Join(j.cfg.Store.Root, stagingDirName)
	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("reading staging root", "error", err)
		}
		return
	}

	live := j.handler.LiveSessionIDs()
	cutoff := time.Now().Add(-j.cfg.Janitor.StagingTTL)
	removed := 0

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if live[e.Name()] {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(stagingRoot, e.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("removing orphaned staging", "path", path, "error", err)
			continue
		}
		removed++
		j.logger.Info("orphaned staging removed", "session", e.Name(), "age", time.Since(info.ModTime()).Truncate(time.Second).String())
	}

	if removed > 0 {
		j.logger.Info("sweep complete", "removed", removed)
	}
}
