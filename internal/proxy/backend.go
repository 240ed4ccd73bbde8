// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha512"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nishisan-dev/n-filehub/internal/protocol"
)

// backend é a sessão persistente do proxy com um único servidor.
// A conexão é estabelecida lazy no primeiro uso e reaproveitada entre
// operações; dentro de uma conexão o protocolo é estritamente serial,
// então todas as operações passam pelo mutex.
type backend struct {
	addr        string
	dialTimeout time.Duration
	opTimeout   time.Duration
	cooldown    time.Duration
	limits      protocol.Limits
	uploadRate  int64
	logger      *slog.Logger

	mu             sync.Mutex
	conn           net.Conn
	br             *bufio.Reader
	unhealthyUntil time.Time
}

// errStatus indica que o backend respondeu com status de erro
// (rejeição por request: not-found, contention, integridade).
// A conexão permanece utilizável.
type errStatus struct {
	op   string
	name string
}

func (e *errStatus) Error() string {
	if e.name == "" {
		return fmt.Sprintf("backend rejected %s", e.op)
	}
	return fmt.Sprintf("backend rejected %s of %q", e.op, e.name)
}

// healthyLocked informa se o backend está fora da quarentena de cooldown.
// Deve ser chamado com o mutex tomado.
func (b *backend) healthyLocked() bool {
	return time.Now().After(b.unhealthyUntil)
}

// Healthy informa se o backend está disponível para uso.
func (b *backend) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthyLocked()
}

// ensureConn estabelece a conexão se necessário.
// Deve ser chamado com o mutex tomado.
func (b *backend) ensureConn() error {
	if b.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", b.addr, b.dialTimeout)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", b.addr, err)
	}
	b.conn = conn
	b.br = bufio.NewReaderSize(conn, 256*1024)
	b.logger.Debug("backend connected", "addr", b.addr)
	return nil
}

// fail derruba a conexão e coloca o backend em quarentena.
// Deve ser chamado com o mutex tomado.
func (b *backend) fail(err error) {
	b.logger.Warn("backend failure", "addr", b.addr, "cooldown", b.cooldown, "error", err)
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
		b.br = nil
	}
	b.unhealthyUntil = time.Now().Add(b.cooldown)
}

// Close encerra a conexão persistente, se houver.
func (b *backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
		b.br = nil
	}
}

// Upload envia nome + blob + digest e lê o status.
// I/O errors colocam o backend em quarentena; rejeição por status
// retorna *errStatus sem derrubar a conexão.
func (b *backend) Upload(ctx context.Context, name string, data []byte, digest protocol.Digest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.healthyLocked() {
		return fmt.Errorf("backend %s in cooldown", b.addr)
	}
	if err := b.ensureConn(); err != nil {
		b.fail(err)
		return err
	}

	conn := b.conn
	conn.SetDeadline(time.Now().Add(b.opTimeout))
	defer conn.SetDeadline(time.Time{})

	bw := bufio.NewWriterSize(b.conn, 256*1024)
	if err := protocol.WriteTag(bw, protocol.TagUpload); err != nil {
		b.fail(err)
		return err
	}
	if err := protocol.WriteString(bw, name); err != nil {
		b.fail(err)
		return err
	}
	if err := protocol.WriteBlobHeader(bw, int64(len(data))); err != nil {
		b.fail(err)
		return err
	}

	// Throttle opcional de upload: aplicado só ao corpo do blob.
	dest := NewThrottledWriter(ctx, bw, b.uploadRate)
	if _, err := bytes.NewReader(data).WriteTo(dest); err != nil {
		b.fail(err)
		return fmt.Errorf("writing blob to %s: %w", b.addr, err)
	}
	if err := protocol.WriteDigest(bw, digest); err != nil {
		b.fail(err)
		return err
	}
	if err := bw.Flush(); err != nil {
		b.fail(err)
		return fmt.Errorf("flushing upload to %s: %w", b.addr, err)
	}

	status, err := protocol.ReadStatus(b.br)
	if err != nil {
		b.fail(err)
		return fmt.Errorf("reading upload status from %s: %w", b.addr, err)
	}
	if status != protocol.StatusOK {
		return &errStatus{op: "upload", name: name}
	}
	return nil
}

// Download pede um arquivo e devolve os bytes, verificando o digest
// recebido contra o SHA-512 recomputado localmente.
func (b *backend) Download(ctx context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.healthyLocked() {
		return nil, fmt.Errorf("backend %s in cooldown", b.addr)
	}
	if err := b.ensureConn(); err != nil {
		b.fail(err)
		return nil, err
	}

	conn := b.conn
	conn.SetDeadline(time.Now().Add(b.opTimeout))
	defer conn.SetDeadline(time.Time{})

	bw := bufio.NewWriter(b.conn)
	if err := protocol.WriteTag(bw, protocol.TagDownload); err != nil {
		b.fail(err)
		return nil, err
	}
	if err := protocol.WriteString(bw, name); err != nil {
		b.fail(err)
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		b.fail(err)
		return nil, fmt.Errorf("flushing download request to %s: %w", b.addr, err)
	}

	status, err := protocol.ReadStatus(b.br)
	if err != nil {
		b.fail(err)
		return nil, fmt.Errorf("reading download status from %s: %w", b.addr, err)
	}
	if status != protocol.StatusOK {
		return nil, &errStatus{op: "download", name: name}
	}

	// Sucesso: o server re-emite o shape do upload (nome, blob, digest).
	echoName, err := protocol.ReadString(b.br, b.limits.MaxNameBytes)
	if err != nil {
		b.fail(err)
		return nil, err
	}

	blobLen, err := protocol.ReadBlobLen(b.br, b.limits.MaxBlobBytes)
	if err != nil {
		b.fail(err)
		return nil, err
	}

	data := make([]byte, blobLen)
	if _, err := io.ReadFull(b.br, data); err != nil {
		b.fail(err)
		return nil, fmt.Errorf("reading blob from %s: %w", b.addr, err)
	}

	digest, err := protocol.ReadDigest(b.br)
	if err != nil {
		b.fail(err)
		return nil, err
	}

	computed := protocol.Digest(sha512.Sum512(data))
	if computed != digest {
		// Corrupção em trânsito ou backend degradado: quarentena.
		b.fail(fmt.Errorf("digest mismatch on download of %q", echoName))
		return nil, fmt.Errorf("digest mismatch downloading %q from %s", name, b.addr)
	}

	return data, nil
}

// Control envia um request sem payload (prepare, commit, rollback)
// e lê o status.
func (b *backend) Control(ctx context.Context, tag byte, op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.healthyLocked() {
		return fmt.Errorf("backend %s in cooldown", b.addr)
	}
	if err := b.ensureConn(); err != nil {
		b.fail(err)
		return err
	}

	conn := b.conn
	conn.SetDeadline(time.Now().Add(b.opTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := protocol.WriteTag(b.conn, tag); err != nil {
		b.fail(err)
		return err
	}

	status, err := protocol.ReadStatus(b.br)
	if err != nil {
		b.fail(err)
		return fmt.Errorf("reading %s status from %s: %w", op, b.addr, err)
	}
	if status != protocol.StatusOK {
		return &errStatus{op: op}
	}
	return nil
}

// Health envia o health check e devolve os bytes livres reportados.
func (b *backend) Health(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.healthyLocked() {
		return 0, fmt.Errorf("backend %s in cooldown", b.addr)
	}
	if err := b.ensureConn(); err != nil {
		b.fail(err)
		return 0, err
	}

	conn := b.conn
	conn.SetDeadline(time.Now().Add(b.opTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := protocol.WriteTag(b.conn, protocol.TagHealth); err != nil {
		b.fail(err)
		return 0, err
	}

	status, err := protocol.ReadStatus(b.br)
	if err != nil {
		b.fail(err)
		return 0, fmt.Errorf("reading health status from %s: %w", b.addr, err)
	}
	if status != protocol.StatusOK {
		return 0, &errStatus{op: "health"}
	}

	free, err := protocol.ReadInt64(b.br)
	if err != nil {
		b.fail(err)
		return 0, err
	}
	return free, nil
}
