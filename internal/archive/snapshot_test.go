// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archive

import (
	"archive/tar"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"

	"github.com/nishisan-dev/n-filehub/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshotter(t *testing.T, root, compression string, keep int) *Snapshotter {
	t.Helper()

	cfg := &config.ServerConfig{
		Server: config.ServerListen{Listen: ":0"},
		Store:  config.StoreInfo{Root: root},
		Snapshot: config.SnapshotConfig{
			Enabled:     true,
			Compression: compression,
			Keep:        keep,
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validating config: %v", err)
	}

	s, err := NewSnapshotter(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewSnapshotter: %v", err)
	}
	return s
}

func seedStore(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"a.txt":          "alpha",
		"dir/b.txt":      "beta",
		"dir/deep/c.bin": "gamma",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("seeding %s: %v", name, err)
		}
	}

	// Conteúdo que NÃO pode entrar no snapshot
	staging := filepath.Join(root, ".staging", "sess-1")
	os.MkdirAll(staging, 0755)
	os.WriteFile(filepath.Join(staging, "partial.tmp"), []byte("partial"), 0644)
}

func TestSnapshotter_RunCreatesArchive(t *testing.T) {
	root := t.TempDir()
	seedStore(t, root)

	s := testSnapshotter(t, root, "gzip", 5)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, snapshotDirName))
	if err != nil {
		t.Fatalf("reading snapshot dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(entries))
	}
	name := entries[0].Name()
	if filepath.Ext(name) != ".gz" {
		t.Errorf("expected .tar.gz snapshot, got %s", name)
	}

	// Abre o tar.gz e confere o conteúdo
	f, err := os.Open(filepath.Join(root, snapshotDirName, name))
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	tr := tar.NewReader(gz)

	var names []string
	contents := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading tar: %v", err)
		}
		names = append(names, hdr.Name)
		data, _ := io.ReadAll(tr)
		contents[hdr.Name] = string(data)
	}
	sort.Strings(names)

	want := []string{"a.txt", "dir/b.txt", "dir/deep/c.bin"}
	if len(names) != len(want) {
		t.Fatalf("expected entries %v, got %v", want, names)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("expected entry %q, got %q", n, names[i])
		}
	}
	if contents["a.txt"] != "alpha" {
		t.Errorf("unexpected content for a.txt: %q", contents["a.txt"])
	}

	// Staging não vaza para o snapshot
	for _, n := range names {
		if strings.HasPrefix(n, ".staging") {
			t.Errorf("staging content leaked into snapshot: %s", n)
		}
	}
}

func TestSnapshotter_ZstdMode(t *testing.T) {
	root := t.TempDir()
	seedStore(t, root)

	s := testSnapshotter(t, root, "zst", 5)
	if s.FileExtension() != ".tar.zst" {
		t.Fatalf("expected .tar.zst, got %s", s.FileExtension())
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(root, snapshotDirName))
	if len(entries) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".zst" {
		t.Errorf("expected .zst snapshot, got %s", entries[0].Name())
	}
}

func TestRotate_KeepsNewest(t *testing.T) {
	dir := t.TempDir()

	names := []string{
		"2025-01-01T00-00-00.tar.gz",
		"2025-01-02T00-00-00.tar.gz",
		"2025-01-03T00-00-00.tar.gz",
		"2025-01-04T00-00-00.tar.gz",
	}
	for _, n := range names {
		os.WriteFile(filepath.Join(dir, n), []byte("x"), 0644)
	}
	// Arquivo de outra extensão não conta
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0644)

	if err := Rotate(dir, ".tar.gz", 2); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	var remaining []string
	for _, e := range entries {
		remaining = append(remaining, e.Name())
	}
	sort.Strings(remaining)

	want := []string{"2025-01-03T00-00-00.tar.gz", "2025-01-04T00-00-00.tar.gz", "notes.txt"}
	if len(remaining) != len(want) {
		t.Fatalf("expected %v, got %v", want, remaining)
	}
	for i := range want {
		if remaining[i] != want[i] {
			t.Errorf("expected %q, got %q", want[i], remaining[i])
		}
	}
}

func TestRotate_ZeroKeepIsNoop(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "2025-01-01T00-00-00.tar.gz"), []byte("x"), 0644)

	if err := Rotate(dir, ".tar.gz", 0); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatal("keep<=0 must not remove anything")
	}
}

// fakeUploader registra as chaves enviadas.
type fakeUploader struct {
	keys []string
}

func (f *fakeUploader) Upload(_ context.Context, _, key string) error {
	f.keys = append(f.keys, key)
	return nil
}

func TestSnapshotter_OffsiteUpload(t *testing.T) {
	root := t.TempDir()
	seedStore(t, root)

	s := testSnapshotter(t, root, "gzip", 5)
	fake := &fakeUploader{}
	s.uploader = fake
	s.prefix = "backups/filehub"

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fake.keys) != 1 {
		t.Fatalf("expected 1 offsite upload, got %d", len(fake.keys))
	}
	key := fake.keys[0]
	if filepath.Dir(key) != "backups/filehub" {
		t.Errorf("expected prefixed key, got %q", key)
	}
}
