// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package archive empacota o store persistente em snapshots tar
// comprimidos, com rotação local e upload offsite opcional para S3.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/nishisan-dev/n-filehub/internal/config"
)

// snapshotDirName é o subdiretório oculto da raiz do store onde os
// snapshots são gravados. Invisível para download, como .staging.
const snapshotDirName = ".snapshots"

// Uploader envia um snapshot para armazenamento offsite.
type Uploader interface {
	Upload(ctx context.Context, path, key string) error
}

// Snapshotter empacota o store em tar.gz ou tar.zst com escrita
// atômica: grava em .tmp, renomeia para o nome final com timestamp.
type Snapshotter struct {
	root        string
	dir         string
	compression string
	keep        int
	uploader    Uploader
	prefix      string
	logger      *slog.Logger
}

// NewSnapshotter cria um Snapshotter a partir da configuração do server.
func NewSnapshotter(cfg *config.ServerConfig, logger *slog.Logger) (*Snapshotter, error) {
	s := &Snapshotter{
		root:        cfg.Store.Root,
		dir:         filepath.Join(cfg.Store.Root, snapshotDirName),
		compression: cfg.Snapshot.Compression,
		keep:        cfg.Snapshot.Keep,
		prefix:      cfg.Snapshot.S3.Prefix,
		logger:      logger.With("component", "snapshot"),
	}

	if cfg.Snapshot.S3.Enabled {
		up, err := NewS3Uploader(cfg.Snapshot.S3)
		if err != nil {
			return nil, fmt.Errorf("configuring s3 uploader: %w", err)
		}
		s.uploader = up
	}

	return s, nil
}

// FileExtension retorna a extensão dos snapshots deste Snapshotter.
func (s *Snapshotter) FileExtension() string {
	if s.compression == "zst" {
		return ".tar.zst"
	}
	return ".tar.gz"
}

// Run executa um ciclo completo: empacota, rotaciona e, se configurado,
// envia o snapshot para o S3.
func (s *Snapshotter) Run(ctx context.Context) error {
	start := time.Now()

	path, size, err := s.pack(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("snapshot written",
		"path", path,
		"bytes", size,
		"elapsed", time.Since(start).Truncate(time.Millisecond).String(),
	)

	if err := Rotate(s.dir, s.FileExtension(), s.keep); err != nil {
		s.logger.Warn("snapshot rotation failed", "error", err)
	}

	if s.uploader != nil {
		key := filepath.Base(path)
		if s.prefix != "" {
			key = strings.TrimSuffix(s.prefix, "/") + "/" + key
		}
		if err := s.uploader.Upload(ctx, path, key); err != nil {
			return fmt.Errorf("offsite upload: %w", err)
		}
		s.logger.Info("snapshot uploaded offsite", "key", key)
	}

	return nil
}

// pack grava o snapshot em .tmp e renomeia para o nome final.
func (s *Snapshotter) pack(ctx context.Context) (string, int64, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", 0, fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "snapshot-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if err := s.writeArchive(ctx, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("closing temp snapshot: %w", err)
	}

	fi, err := os.Stat(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("stat temp snapshot: %w", err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	finalPath := filepath.Join(s.dir, timestamp+s.FileExtension())
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("renaming temp to final: %w", err)
	}

	return finalPath, fi.Size(), nil
}

// writeArchive percorre o store (ignorando os diretórios ocultos) e
// escreve o tar comprimido em w.
func (s *Snapshotter) writeArchive(ctx context.Context, w io.Writer) error {
	var compressor io.WriteCloser
	var err error

	switch s.compression {
	case "zst":
		compressor, err = zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
	default:
		compressor, err = pgzip.NewWriterLevel(w, pgzip.BestSpeed)
		if err != nil {
			return fmt.Errorf("creating gzip writer: %w", err)
		}
	}

	tw := tar.NewWriter(compressor)

	walkErr := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		// Pula .staging, .snapshots e qualquer outro dot-dir, em qualquer nível.
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		return addFile(tw, path, filepath.ToSlash(rel))
	})

	if walkErr != nil {
		tw.Close()
		compressor.Close()
		return fmt.Errorf("packing store: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		compressor.Close()
		return fmt.Errorf("closing tar writer: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("closing compressor: %w", err)
	}
	return nil
}

// addFile adiciona um arquivo regular ao tar.
func addFile(tw *tar.Writer, path, name string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copying %s into tar: %w", name, err)
	}
	return nil
}

// Rotate remove snapshots excedentes, mantendo os keep mais recentes.
// Ordena por nome: o timestamp no nome dá a ordem cronológica natural.
func Rotate(dir, extension string, keep int) error {
	if keep <= 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading snapshot directory: %w", err)
	}

	var snapshots []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), extension) {
			snapshots = append(snapshots, e.Name())
		}
	}

	sort.Strings(snapshots)

	if len(snapshots) > keep {
		toRemove := snapshots[:len(snapshots)-keep]
		for _, name := range toRemove {
			path := filepath.Join(dir, name)
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("removing old snapshot %s: %w", name, err)
			}
		}
	}

	return nil
}
