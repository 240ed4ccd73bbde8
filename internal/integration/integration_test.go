// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishisan-dev/n-filehub/internal/config"
	"github.com/nishisan-dev/n-filehub/internal/proxy"
	"github.com/nishisan-dev/n-filehub/internal/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startBackend sobe um backend completo num listener loopback.
func startBackend(t *testing.T) (addr, root string) {
	t.Helper()

	root = t.TempDir()
	cfg := &config.ServerConfig{
		Server:  config.ServerListen{Listen: "127.0.0.1:0"},
		Store:   config.StoreInfo{Root: root},
		Logging: config.LoggingInfo{Level: "error", Format: "text"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validating server config: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go server.RunWithListener(ctx, ln, cfg, testLogger())
	return ln.Addr().String(), root
}

func newProxy(t *testing.T, addrs ...string) *proxy.Proxy {
	t.Helper()

	backends := make([]config.BackendAddr, 0, len(addrs))
	for _, a := range addrs {
		backends = append(backends, config.BackendAddr{Address: a})
	}
	cfg := &config.ProxyConfig{
		Backends: backends,
		Timeouts: config.TimeoutsInfo{
			Dial:      2 * time.Second,
			Operation: 30 * time.Second,
			Cooldown:  500 * time.Millisecond,
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validating proxy config: %v", err)
	}

	p := proxy.New(cfg, testLogger())
	t.Cleanup(p.Close)
	return p
}

// TestEndToEnd_MultiFileTransaction envia várias entradas numa transação
// e confirma o commit atômico em ambos os backends.
func TestEndToEnd_MultiFileTransaction(t *testing.T) {
	addr1, root1 := startBackend(t)
	addr2, root2 := startBackend(t)
	p := newProxy(t, addr1, addr2)
	ctx := context.Background()

	files := map[string][]byte{
		"site/index.html":      []byte("<html>index</html>"),
		"site/assets/app.js":   []byte("console.log('hi')"),
		"uploads/2025/img.bin": make([]byte, 512*1024),
	}
	if _, err := rand.Read(files["uploads/2025/img.bin"]); err != nil {
		t.Fatalf("generating random payload: %v", err)
	}

	for name, content := range files {
		if err := p.Upload(ctx, name, content); err != nil {
			t.Fatalf("Upload(%q): %v", name, err)
		}
	}

	// Nada visível antes do commit
	for _, root := range []string{root1, root2} {
		if _, err := os.Stat(filepath.Join(root, "site", "index.html")); !os.IsNotExist(err) {
			t.Fatal("staged files must not be visible before commit")
		}
	}

	if err := p.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := p.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for name, content := range files {
		got, err := p.Get(ctx, name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("content mismatch for %q", name)
		}

		for _, root := range []string{root1, root2} {
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
			if err != nil {
				t.Fatalf("backend missing %q: %v", name, err)
			}
			if !bytes.Equal(data, content) {
				t.Errorf("backend content mismatch for %q", name)
			}
		}
	}
}

// TestEndToEnd_ProxySurvivesBackendLoss reproduz o cenário de um backend
// fora do ar: put e get continuam funcionando pelo backend restante.
func TestEndToEnd_ProxySurvivesBackendLoss(t *testing.T) {
	addr1, _ := startBackend(t)

	// Reserva um endereço e fecha o listener: backend-2 inalcançável
	deadLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := deadLn.Addr().String()
	deadLn.Close()

	p := newProxy(t, addr1, deadAddr)
	ctx := context.Background()

	content := []byte("data")
	if err := p.Put(ctx, "f", content); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := p.Get(ctx, "f")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("expected %q, got %q", content, got)
	}
}

// TestEndToEnd_DownloadFallbackBetweenBackends reproduz o cenário de
// fallback: o primeiro backend não tem o arquivo, o segundo tem.
func TestEndToEnd_DownloadFallbackBetweenBackends(t *testing.T) {
	addr1, _ := startBackend(t)
	addr2, _ := startBackend(t)

	content := []byte("g-bytes")
	seed := newProxy(t, addr2)
	if err := seed.Put(context.Background(), "g", content); err != nil {
		t.Fatalf("seeding backend 2: %v", err)
	}

	p := newProxy(t, addr1, addr2)
	got, err := p.Get(context.Background(), "g")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("expected %q, got %q", content, got)
	}
}

// TestEndToEnd_ConcurrentUploadersDistinctNames garante que sessões
// simultâneas em nomes disjuntos não se atrapalham.
func TestEndToEnd_ConcurrentUploadersDistinctNames(t *testing.T) {
	addr1, root1 := startBackend(t)

	const writers = 8
	errCh := make(chan error, writers)

	proxies := make([]*proxy.Proxy, writers)
	for i := range proxies {
		proxies[i] = newProxy(t, addr1)
	}

	for i := 0; i < writers; i++ {
		go func(i int) {
			name := fmt.Sprintf("concurrent/file-%d.bin", i)
			content := bytes.Repeat([]byte{byte(i)}, 64*1024)
			errCh <- proxies[i].Put(context.Background(), name, content)
		}(i)
	}

	for i := 0; i < writers; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("concurrent Put: %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(root1, "concurrent"))
	if err != nil {
		t.Fatalf("reading store: %v", err)
	}
	if len(entries) != writers {
		t.Fatalf("expected %d committed files, got %d", writers, len(entries))
	}
}
