// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ReadTag lê o byte de tag de um request (Client → Server).
func ReadTag(r io.Reader) (byte, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return 0, fmt.Errorf("reading request tag: %w", wrapShortRead(err))
	}
	return tag[0], nil
}

// ReadStatus lê o byte de status de uma resposta (Server → Client).
func ReadStatus(r io.Reader) (byte, error) {
	var status [1]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return 0, fmt.Errorf("reading status byte: %w", wrapShortRead(err))
	}
	return status[0], nil
}

// ReadInt32 lê um i32 big-endian com sinal.
func ReadInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading i32: %w", wrapShortRead(err))
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// ReadInt64 lê um i64 big-endian com sinal.
func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading i64: %w", wrapShortRead(err))
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// ReadString lê uma string UTF-8 com prefixo de comprimento i32.
// Comprimento negativo, acima de max ou bytes inválidos são erros de protocolo.
func ReadString(r io.Reader, max int32) (string, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return "", fmt.Errorf("reading string length: %w", err)
	}
	if n < 0 {
		return "", ErrNegativeLength
	}
	if n > max {
		return "", fmt.Errorf("%w: string of %d bytes (max %d)", ErrOversizeLength, n, max)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("reading string bytes: %w", wrapShortRead(err))
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}
	return string(buf), nil
}

// ReadBlobLen lê o prefixo de comprimento i64 de um blob e valida os limites.
// O conteúdo em si é consumido pelo caller em streaming (io.CopyN sobre r),
// nunca materializado pelo codec.
func ReadBlobLen(r io.Reader, max int64) (int64, error) {
	n, err := ReadInt64(r)
	if err != nil {
		return 0, fmt.Errorf("reading blob length: %w", err)
	}
	if n < 0 {
		return 0, ErrNegativeLength
	}
	if n > max {
		return 0, fmt.Errorf("%w: blob of %d bytes (max %d)", ErrOversizeLength, n, max)
	}
	return n, nil
}

// ReadDigest lê os 64 bytes de digest SHA-512 que seguem um blob.
func ReadDigest(r io.Reader) (Digest, error) {
	var d Digest
	if _, err := io.ReadFull(r, d[:]); err != nil {
		return d, fmt.Errorf("reading digest: %w", wrapShortRead(err))
	}
	return d, nil
}

// DiscardBlob consome e descarta n bytes de blob mais o digest que o segue.
// Usado para manter o stream sincronizado quando um upload é rejeitado
// depois do tag já ter sido lido.
func DiscardBlob(r io.Reader, n int64) error {
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("discarding blob: %w", wrapShortRead(err))
	}
	if _, err := io.CopyN(io.Discard, r, DigestSize); err != nil {
		return fmt.Errorf("discarding digest: %w", wrapShortRead(err))
	}
	return nil
}

// wrapShortRead converte EOF inesperado em ErrTruncatedFrame, preservando
// EOF limpo (conexão encerrada entre requests) para o caller distinguir.
func wrapShortRead(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
	}
	return err
}
