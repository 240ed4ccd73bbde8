// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxPathComponentLength é o comprimento máximo permitido para um componente
// de um nome lógico.
const maxPathComponentLength = 255

// NormalizeName valida e normaliza um nome lógico vindo do wire.
// O separador no wire é sempre "/", independente do OS. Depois das
// checagens de nome vazio e byte nulo, o nome é normalizado para NFC
// antes das validações de caminho, para que variantes
// de composição Unicode resolvam para o mesmo arquivo no store.
// Componentes vazios, ".", ".." e componentes iniciados em ponto são
// rejeitados — os diretórios ocultos .staging e .snapshots ficam assim
// inalcançáveis por upload e download.
func NormalizeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty name")
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("name contains null byte")
	}

	name = norm.NFC.String(name)

	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute path not allowed")
	}
	if strings.ContainsRune(name, '\\') {
		return "", fmt.Errorf("name contains backslash")
	}

	components := strings.Split(name, "/")
	for _, c := range components {
		if c == "" {
			return "", fmt.Errorf("name contains empty path component")
		}
		if len(c) > maxPathComponentLength {
			return "", fmt.Errorf("path component exceeds max length %d", maxPathComponentLength)
		}
		if c == "." || c == ".." {
			return "", fmt.Errorf("name contains path traversal")
		}
		if strings.HasPrefix(c, ".") {
			return "", fmt.Errorf("path component starts with dot")
		}
	}

	return strings.Join(components, "/"), nil
}

// validatePathInBaseDir verifica que o caminho resolvido permanece dentro de baseDir.
// Defesa em profundidade contra path traversal.
func validatePathInBaseDir(baseDir, resolvedPath string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolving base dir: %w", err)
	}
	absResolved, err := filepath.Abs(resolvedPath)
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	// filepath.Rel retorna erro se os paths não compartilham prefixo
	rel, err := filepath.Rel(absBase, absResolved)
	if err != nil {
		return fmt.Errorf("path escapes base directory: %w", err)
	}

	// Se rel começa com "..", o path resolvido está fora de baseDir
	if strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %q escapes base directory %q", resolvedPath, baseDir)
	}

	return nil
}
