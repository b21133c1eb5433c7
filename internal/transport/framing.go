// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the result-transport layer: a
// length-prefixed framing shared by the JSON-over-IPC path (over a Unix
// domain socket) and the shared-memory fast path (over an mmap'd byte
// region). Both paths lay out a frame identically:
//
//	offset 0..4   : u32 little-endian length N
//	offset 4..4+N : UTF-8 JSON payload, exactly N bytes
//
// only the underlying io.Writer/io.Reader (or raw byte slice) differs.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const frameHeaderSize = 4

var encodeBufPool = sync.Pool{
	New: func() any { return make([]byte, 0, 4096) },
}

// WriteFrame writes payload to w as [u32 LE length][payload bytes]
// and returns the total number of bytes written (4+N).
func WriteFrame(w io.Writer, payload []byte) (int, error) {
	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return 0, fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return 0, fmt.Errorf("write frame payload: %w", err)
		}
	}
	return frameHeaderSize + len(payload), nil
}

// ReadFrame reads one frame from r and returns the decoded payload bytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	n := binary.LittleEndian.Uint32(header[:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return payload, nil
}

// DecodeBuffer reads byteCount bytes from buf, starting at offset 0, as a
// single frame, applying the strict validation spelled out by the
// shared-memory wire format: any violation is reported as a plain error
// with a precise reason string, to be wrapped by callers as
// apperr.DecodeFrameInvalid.
func DecodeBuffer(buf []byte, byteCount int) ([]byte, error) {
	if byteCount < frameHeaderSize {
		return nil, fmt.Errorf("byte_count %d is smaller than the frame header", byteCount)
	}
	if byteCount > len(buf) {
		return nil, fmt.Errorf("byte_count %d exceeds buffer length %d", byteCount, len(buf))
	}
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	if frameHeaderSize+n > byteCount {
		return nil, fmt.Errorf("frame length %d overruns byte_count %d", n, byteCount)
	}
	return buf[4 : 4+n], nil
}

// EncodeBuffer writes payload into buf as [u32 LE length][payload] and
// returns the written byte count (4+len(payload)). buf must have
// capacity for at least 4+len(payload) bytes.
func EncodeBuffer(buf []byte, payload []byte) (int, error) {
	total := frameHeaderSize + len(payload)
	if total > len(buf) {
		return 0, fmt.Errorf("payload of %d bytes does not fit in a %d-byte buffer", len(payload), len(buf))
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return total, nil
}

// GetEncodeBuf borrows a reusable byte slice for JSON marshalling
// scratch space; call PutEncodeBuf to return it.
func GetEncodeBuf() []byte {
	return encodeBufPool.Get().([]byte)[:0]
}

// PutEncodeBuf returns a buffer obtained from GetEncodeBuf.
func PutEncodeBuf(b []byte) {
	encodeBufPool.Put(b) //nolint:staticcheck // deliberate reuse, not an escape
}
