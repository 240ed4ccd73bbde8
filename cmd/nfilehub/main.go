// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// nfilehub é o client de linha de comando do proxy redundante:
//
//	nfilehub -config proxy.yaml put <name> <local-file>
//	nfilehub -config proxy.yaml get <name> [local-file]
//	nfilehub -config proxy.yaml health
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nishisan-dev/n-filehub/internal/config"
	"github.com/nishisan-dev/n-filehub/internal/logging"
	"github.com/nishisan-dev/n-filehub/internal/proxy"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: nfilehub -config <proxy.yaml> put <name> <local-file>\n")
	fmt.Fprintf(os.Stderr, "       nfilehub -config <proxy.yaml> get <name> [local-file]\n")
	fmt.Fprintf(os.Stderr, "       nfilehub -config <proxy.yaml> health\n")
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "/etc/nfilehub/proxy.yaml", "path to proxy config file")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := config.LoadProxyConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	p := proxy.New(cfg, logger)
	defer p.Close()

	ctx := context.Background()

	switch flag.Arg(0) {
	case "put":
		if flag.NArg() != 3 {
			usage()
		}
		name, localFile := flag.Arg(1), flag.Arg(2)
		data, err := os.ReadFile(localFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", localFile, err)
			os.Exit(1)
		}
		if err := p.Put(ctx, name, data); err != nil {
			fmt.Fprintf(os.Stderr, "Error putting %s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("put %s (%d bytes)\n", name, len(data))

	case "get":
		if flag.NArg() != 2 && flag.NArg() != 3 {
			usage()
		}
		name := flag.Arg(1)
		data, err := p.Get(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting %s: %v\n", name, err)
			os.Exit(1)
		}
		if flag.NArg() == 3 {
			if err := os.WriteFile(flag.Arg(2), data, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", flag.Arg(2), err)
				os.Exit(1)
			}
			fmt.Printf("got %s (%d bytes) -> %s\n", name, len(data), flag.Arg(2))
		} else {
			os.Stdout.Write(data)
		}

	case "health":
		if flag.NArg() != 1 {
			usage()
		}
		for _, h := range p.Health(ctx) {
			if h.Healthy {
				fmt.Printf("%s: ok (disk free %d MB)\n", h.Address, h.DiskFree/(1024*1024))
			} else {
				fmt.Printf("%s: unavailable (%v)\n", h.Address, h.Err)
			}
		}

	default:
		usage()
	}
}
