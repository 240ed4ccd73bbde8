// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig representa a configuração completa do nfilehub-server.
type ServerConfig struct {
	Server   ServerListen   `yaml:"server"`
	Store    StoreInfo      `yaml:"store"`
	Limits   LimitsInfo     `yaml:"limits"`
	Janitor  JanitorConfig  `yaml:"janitor"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Logging  LoggingInfo    `yaml:"logging"`
}

// ServerListen contém o endereço de escuta do server.
type ServerListen struct {
	Listen string `yaml:"listen"`
}

// StoreInfo contém o diretório raiz do store persistente.
// Staging e snapshots vivem em subdiretórios ocultos da mesma raiz
// (.staging e .snapshots), garantindo rename atômico no commit.
type StoreInfo struct {
	Root string `yaml:"root"`
}

// LimitsInfo contém os máximos de framing do protocolo.
type LimitsInfo struct {
	MaxNameBytes string `yaml:"max_name_bytes"` // ex: "4kb" (default: 4kb)
	MaxBlobBytes string `yaml:"max_blob_bytes"` // ex: "16gb" (default: 16gb)

	// Raw são preenchidos por Validate(); não vêm do YAML.
	MaxNameBytesRaw int32 `yaml:"-"`
	MaxBlobBytesRaw int64 `yaml:"-"`
}

// JanitorConfig configura a varredura periódica de staging órfão.
// Diretórios de staging sem sessão viva e mais velhos que o TTL são removidos.
type JanitorConfig struct {
	Schedule   string        `yaml:"schedule"`    // cron expression (default: "*/10 * * * *")
	StagingTTL time.Duration `yaml:"staging_ttl"` // default: 1h
}

// SnapshotConfig configura o empacotamento periódico do store em
// arquivos tar comprimidos, com rotação e upload offsite opcional.
type SnapshotConfig struct {
	Enabled     bool      `yaml:"enabled"`     // default: false
	Schedule    string    `yaml:"schedule"`    // cron expression (default: "0 3 * * *")
	Compression string    `yaml:"compression"` // gzip|zst (default: gzip)
	Keep        int       `yaml:"keep"`        // snapshots retidos (default: 5)
	S3          S3Offsite `yaml:"s3"`
}

// S3Offsite configura o upload offsite de snapshots para um bucket S3.
type S3Offsite struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`   // opcional (S3-compatible)
	AccessKey string `yaml:"access_key"` // opcional: vazio usa a credential chain default
	SecretKey string `yaml:"secret_key"`
}

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"` // opcional: stdout + arquivo
}

// LoadServerConfig lê e valida o arquivo YAML de configuração do server.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

// Validate aplica defaults e valida a configuração. Exportado porque
// os testes montam ServerConfig programaticamente.
func (c *ServerConfig) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Store.Root == "" {
		return fmt.Errorf("store.root is required")
	}

	if c.Limits.MaxNameBytes == "" {
		c.Limits.MaxNameBytes = "4kb"
	}
	nameMax, err := ParseByteSize(c.Limits.MaxNameBytes)
	if err != nil {
		return fmt.Errorf("limits.max_name_bytes: %w", err)
	}
	if nameMax <= 0 || nameMax > 1024*1024 {
		return fmt.Errorf("limits.max_name_bytes must be between 1b and 1mb, got %s", c.Limits.MaxNameBytes)
	}
	c.Limits.MaxNameBytesRaw = int32(nameMax)

	if c.Limits.MaxBlobBytes == "" {
		c.Limits.MaxBlobBytes = "16gb"
	}
	blobMax, err := ParseByteSize(c.Limits.MaxBlobBytes)
	if err != nil {
		return fmt.Errorf("limits.max_blob_bytes: %w", err)
	}
	if blobMax <= 0 {
		return fmt.Errorf("limits.max_blob_bytes must be > 0, got %s", c.Limits.MaxBlobBytes)
	}
	c.Limits.MaxBlobBytesRaw = blobMax

	if c.Janitor.Schedule == "" {
		c.Janitor.Schedule = "*/10 * * * *"
	}
	if c.Janitor.StagingTTL <= 0 {
		c.Janitor.StagingTTL = 1 * time.Hour
	}

	if c.Snapshot.Enabled {
		if c.Snapshot.Schedule == "" {
			c.Snapshot.Schedule = "0 3 * * *"
		}
		if c.Snapshot.Compression == "" {
			c.Snapshot.Compression = "gzip"
		}
		c.Snapshot.Compression = strings.ToLower(strings.TrimSpace(c.Snapshot.Compression))
		if c.Snapshot.Compression != "gzip" && c.Snapshot.Compression != "zst" {
			return fmt.Errorf("snapshot.compression must be gzip or zst, got %q", c.Snapshot.Compression)
		}
		if c.Snapshot.Keep < 1 {
			c.Snapshot.Keep = 5
		}
		if c.Snapshot.S3.Enabled {
			if c.Snapshot.S3.Bucket == "" {
				return fmt.Errorf("snapshot.s3.bucket is required when snapshot.s3 is enabled")
			}
			if c.Snapshot.S3.Region == "" && c.Snapshot.S3.Endpoint == "" {
				return fmt.Errorf("snapshot.s3.region or snapshot.s3.endpoint is required")
			}
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
