// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package proxy implementa o client redundante do N-FileHub: uma façade
// com a mesma superfície de operações de um backend único, multiplexada
// sobre N backends independentes. Uploads fazem fan-out concorrente
// (sucesso agregado com ≥1 backend); downloads tentam os backends em
// ordem de prioridade até o primeiro sucesso.
package proxy

import (
	"context"
	"crypto/sha512"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/n-filehub/internal/config"
	"github.com/nishisan-dev/n-filehub/internal/protocol"
)

// Erros agregados expostos pela façade.
var (
	// ErrBackendUnavailable indica que nenhum backend aceitou a operação.
	ErrBackendUnavailable = errors.New("proxy: no backend available")
	// ErrNotFound indica que nenhum backend possui o arquivo.
	ErrNotFound = errors.New("proxy: file not found on any backend")
)

// Proxy é a façade redundante. Safe para uso por uma goroutine por vez;
// operações em backends distintos rodam concorrentemente por baixo.
type Proxy struct {
	cfg      *config.ProxyConfig
	logger   *slog.Logger
	backends []*backend

	// Transaction binding: para cada nome enviado nesta transação
	// lógica, o conjunto de backends (por índice) que aceitou o upload.
	// prepare/commit dirigem a união desses cohorts.
	mu      sync.Mutex
	cohorts map[string]map[int]bool
}

// BackendHealth é o resultado de um health check por backend.
type BackendHealth struct {
	Address  string
	Healthy  bool
	DiskFree int64
	Err      error
}

// New cria o Proxy a partir da configuração. Conexões são estabelecidas
// lazy no primeiro uso de cada backend.
func New(cfg *config.ProxyConfig, logger *slog.Logger) *Proxy {
	limits := protocol.Limits{
		MaxNameBytes: cfg.Limits.MaxNameBytesRaw,
		MaxBlobBytes: cfg.Limits.MaxBlobBytesRaw,
	}.Effective()

	p := &Proxy{
		cfg:     cfg,
		logger:  logger,
		cohorts: make(map[string]map[int]bool),
	}
	for _, addr := range cfg.Backends {
		p.backends = append(p.backends, &backend{
			addr:        addr.Address,
			dialTimeout: cfg.Timeouts.Dial,
			opTimeout:   cfg.Timeouts.Operation,
			cooldown:    cfg.Timeouts.Cooldown,
			limits:      limits,
			uploadRate:  cfg.Throttle.UploadRateRaw,
			logger:      logger,
		})
	}
	return p
}

// Close encerra as sessões persistentes com todos os backends.
func (p *Proxy) Close() {
	for _, b := range p.backends {
		b.Close()
	}
}

// Upload envia o arquivo para todos os backends saudáveis em paralelo.
// Sucesso agregado se pelo menos um backend aceitar. Backends que
// falharam saem do cohort deste nome mas podem participar de outros.
func (p *Proxy) Upload(ctx context.Context, name string, data []byte) error {
	digest := protocol.Digest(sha512.Sum512(data))

	type result struct {
		idx int
		err error
	}

	results := make(chan result, len(p.backends))
	dispatched := 0

	for idx, b := range p.backends {
		if !b.Healthy() {
			p.logger.Debug("skipping backend in cooldown", "addr", b.addr)
			continue
		}
		dispatched++
		go func(idx int, b *backend) {
			results <- result{idx: idx, err: b.Upload(ctx, name, data, digest)}
		}(idx, b)
	}

	if dispatched == 0 {
		return fmt.Errorf("%w: all backends in cooldown", ErrBackendUnavailable)
	}

	accepted := make([]int, 0, dispatched)
	for i := 0; i < dispatched; i++ {
		r := <-results
		if r.err != nil {
			p.logger.Warn("upload failed on backend", "addr", p.backends[r.idx].addr, "name", name, "error", r.err)
			continue
		}
		accepted = append(accepted, r.idx)
	}

	if len(accepted) == 0 {
		return fmt.Errorf("%w: upload of %q failed on every backend", ErrBackendUnavailable, name)
	}

	p.mu.Lock()
	cohort := p.cohorts[name]
	if cohort == nil {
		cohort = make(map[int]bool)
		p.cohorts[name] = cohort
	} else {
		// Re-upload do mesmo nome: o cohort é substituído pelo novo resultado.
		for k := range cohort {
			delete(cohort, k)
		}
	}
	for _, idx := range accepted {
		cohort[idx] = true
	}
	p.mu.Unlock()

	p.logger.Info("upload dispatched", "name", name, "bytes", len(data), "accepted", len(accepted), "of", dispatched)
	return nil
}

// Download tenta os backends na ordem configurada e devolve os bytes do
// primeiro que responder com sucesso. Backends restantes não são consultados.
func (p *Proxy) Download(ctx context.Context, name string) ([]byte, error) {
	var lastErr error
	notFound := false

	for _, b := range p.backends {
		data, err := b.Download(ctx, name)
		if err == nil {
			return data, nil
		}

		var rejected *errStatus
		if errors.As(err, &rejected) {
			notFound = true
			p.logger.Debug("download miss on backend", "addr", b.addr, "name", name)
			continue
		}

		lastErr = err
		p.logger.Warn("download failed on backend", "addr", b.addr, "name", name, "error", err)
	}

	if notFound && lastErr == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: downloading %q: %v", ErrBackendUnavailable, name, lastErr)
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// participants retorna a união dos cohorts da transação corrente.
func (p *Proxy) participants() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := make(map[int]bool)
	for _, cohort := range p.cohorts {
		for idx := range cohort {
			set[idx] = true
		}
	}
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	return out
}

// control dirige um request sem payload a todos os participantes da
// transação, em paralelo, e conta os sucessos.
func (p *Proxy) control(ctx context.Context, tag byte, op string) (succeeded, dispatched int) {
	participants := p.participants()

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, idx := range participants {
		b := p.backends[idx]
		dispatched++
		wg.Add(1)
		go func(b *backend) {
			defer wg.Done()
			if err := b.Control(ctx, tag, op); err != nil {
				p.logger.Warn("control failed on backend", "op", op, "addr", b.addr, "error", err)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(b)
	}
	wg.Wait()
	return succeeded, dispatched
}

// Prepare pede a re-verificação dos staged em todos os participantes.
// Sucesso agregado se pelo menos um backend verificar.
func (p *Proxy) Prepare(ctx context.Context) error {
	succeeded, dispatched := p.control(ctx, protocol.TagPrepare, "prepare")
	if dispatched == 0 {
		return fmt.Errorf("%w: no pending transaction", ErrBackendUnavailable)
	}
	if succeeded == 0 {
		return fmt.Errorf("%w: prepare failed on every backend", ErrBackendUnavailable)
	}
	return nil
}

// Commit promove os staged em todos os participantes da transação.
// Sucesso agregado se pelo menos um backend comitar; a transação é
// encerrada em qualquer caso.
func (p *Proxy) Commit(ctx context.Context) error {
	succeeded, dispatched := p.control(ctx, protocol.TagCommit, "commit")

	p.mu.Lock()
	p.cohorts = make(map[string]map[int]bool)
	p.mu.Unlock()

	if dispatched == 0 {
		return fmt.Errorf("%w: no pending transaction", ErrBackendUnavailable)
	}
	if succeeded == 0 {
		return fmt.Errorf("%w: commit failed on every backend", ErrBackendUnavailable)
	}
	p.logger.Info("commit complete", "succeeded", succeeded, "of", dispatched)
	return nil
}

// Rollback descarta os staged em todos os participantes. Best-effort:
// nunca devolve erro ao caller.
func (p *Proxy) Rollback(ctx context.Context) error {
	succeeded, dispatched := p.control(ctx, protocol.TagRollback, "rollback")

	p.mu.Lock()
	p.cohorts = make(map[string]map[int]bool)
	p.mu.Unlock()

	if dispatched > 0 && succeeded < dispatched {
		p.logger.Warn("rollback incomplete", "succeeded", succeeded, "of", dispatched)
	}
	return nil
}

// Put é a conveniência upload + commit.
func (p *Proxy) Put(ctx context.Context, name string, data []byte) error {
	if err := p.Upload(ctx, name, data); err != nil {
		return err
	}
	return p.Commit(ctx)
}

// Get é a conveniência de download one-shot.
func (p *Proxy) Get(ctx context.Context, name string) ([]byte, error) {
	return p.Download(ctx, name)
}

// Health consulta todos os backends e devolve o estado individual.
func (p *Proxy) Health(ctx context.Context) []BackendHealth {
	out := make([]BackendHealth, len(p.backends))

	var wg sync.WaitGroup
	for idx, b := range p.backends {
		wg.Add(1)
		go func(idx int, b *backend) {
			defer wg.Done()
			free, err := b.Health(ctx)
			out[idx] = BackendHealth{
				Address:  b.addr,
				Healthy:  err == nil,
				DiskFree: free,
				Err:      err,
			}
		}(idx, b)
	}
	wg.Wait()
	return out
}
