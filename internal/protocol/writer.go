// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteTag escreve o byte de tag de um request (Client → Server).
func WriteTag(w io.Writer, tag byte) error {
	if _, err := w.Write([]byte{tag}); err != nil {
		return fmt.Errorf("writing request tag: %w", err)
	}
	return nil
}

// WriteStatus escreve o byte de status de uma resposta (Server → Client).
func WriteStatus(w io.Writer, status byte) error {
	if _, err := w.Write([]byte{status}); err != nil {
		return fmt.Errorf("writing status byte: %w", err)
	}
	return nil
}

// WriteInt32 escreve um i32 big-endian com sinal.
func WriteInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing i32: %w", err)
	}
	return nil
}

// WriteInt64 escreve um i64 big-endian com sinal.
func WriteInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing i64: %w", err)
	}
	return nil
}

// WriteString escreve uma string UTF-8 com prefixo de comprimento i32.
func WriteString(w io.Writer, s string) error {
	if err := WriteInt32(w, int32(len(s))); err != nil {
		return fmt.Errorf("writing string length: %w", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("writing string bytes: %w", err)
	}
	return nil
}

// WriteBlobHeader escreve o prefixo de comprimento i64 de um blob.
// O conteúdo é escrito pelo caller em streaming logo após o header.
func WriteBlobHeader(w io.Writer, n int64) error {
	if err := WriteInt64(w, n); err != nil {
		return fmt.Errorf("writing blob length: %w", err)
	}
	return nil
}

// WriteDigest escreve os 64 bytes de digest SHA-512 que seguem um blob.
func WriteDigest(w io.Writer, d Digest) error {
	if _, err := w.Write(d[:]); err != nil {
		return fmt.Errorf("writing digest: %w", err)
	}
	return nil
}
