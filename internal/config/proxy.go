// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProxyConfig representa a configuração do proxy redundante.
// A ordem de backends define a prioridade de download.
type ProxyConfig struct {
	Backends []BackendAddr `yaml:"backends"`
	Timeouts TimeoutsInfo  `yaml:"timeouts"`
	Throttle ThrottleInfo  `yaml:"throttle"`
	Limits   LimitsInfo    `yaml:"limits"`
	Logging  LoggingInfo   `yaml:"logging"`
}

// BackendAddr identifica um backend da frota.
type BackendAddr struct {
	Address string `yaml:"address"`
}

// TimeoutsInfo contém os timeouts de rede do proxy.
type TimeoutsInfo struct {
	Dial      time.Duration `yaml:"dial"`      // default: 5s
	Operation time.Duration `yaml:"operation"` // deadline por operação (default: 60s)
	Cooldown  time.Duration `yaml:"cooldown"`  // quarentena após falha (default: 15s)
}

// ThrottleInfo limita a banda de upload do proxy.
type ThrottleInfo struct {
	UploadRate string `yaml:"upload_rate"` // ex: "10mb" por segundo; vazio = sem limite

	// Raw é preenchido por Validate(); não vem do YAML.
	UploadRateRaw int64 `yaml:"-"`
}

// LoadProxyConfig lê e valida o arquivo YAML de configuração do proxy.
func LoadProxyConfig(path string) (*ProxyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proxy config: %w", err)
	}

	var cfg ProxyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing proxy config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating proxy config: %w", err)
	}

	return &cfg, nil
}

// Validate aplica defaults e valida a configuração.
func (c *ProxyConfig) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("backends must have at least one entry")
	}
	for i, b := range c.Backends {
		if b.Address == "" {
			return fmt.Errorf("backends[%d].address is required", i)
		}
	}

	if c.Timeouts.Dial <= 0 {
		c.Timeouts.Dial = 5 * time.Second
	}
	if c.Timeouts.Operation <= 0 {
		c.Timeouts.Operation = 60 * time.Second
	}
	if c.Timeouts.Cooldown <= 0 {
		c.Timeouts.Cooldown = 15 * time.Second
	}

	if c.Throttle.UploadRate != "" {
		rate, err := ParseByteSize(c.Throttle.UploadRate)
		if err != nil {
			return fmt.Errorf("throttle.upload_rate: %w", err)
		}
		if rate <= 0 {
			return fmt.Errorf("throttle.upload_rate must be > 0, got %s", c.Throttle.UploadRate)
		}
		c.Throttle.UploadRateRaw = rate
	}

	if c.Limits.MaxNameBytes == "" {
		c.Limits.MaxNameBytes = "4kb"
	}
	nameMax, err := ParseByteSize(c.Limits.MaxNameBytes)
	if err != nil {
		return fmt.Errorf("limits.max_name_bytes: %w", err)
	}
	c.Limits.MaxNameBytesRaw = int32(nameMax)

	if c.Limits.MaxBlobBytes == "" {
		c.Limits.MaxBlobBytes = "16gb"
	}
	blobMax, err := ParseByteSize(c.Limits.MaxBlobBytes)
	if err != nil {
		return fmt.Errorf("limits.max_blob_bytes: %w", err)
	}
	c.Limits.MaxBlobBytesRaw = blobMax

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
