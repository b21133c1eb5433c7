// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// SharedBuffer is a fixed-size byte region backed by an anonymous
// MAP_SHARED mapping in the control-plane process, kept for the lifetime
// of one session. It is allocated on demand by the pool and released on
// eviction. A worker process started with exec does not share the mapping.
type SharedBuffer struct {
	mu   sync.Mutex
	data []byte
}

// NewSharedBuffer allocates a shared-memory region of size bytes.
func NewSharedBuffer(size int) (*SharedBuffer, error) {
	if size <= frameHeaderSize {
		return nil, fmt.Errorf("shared buffer size %d must exceed the %d-byte frame header", size, frameHeaderSize)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap shared buffer: %w", err)
	}
	return &SharedBuffer{data: data}, nil
}

// Size returns the capacity of the underlying region.
func (b *SharedBuffer) Size() int {
	return len(b.data)
}

// WriteFrame encodes payload into the region and returns the written
// byte count (4+len(payload)).
func (b *SharedBuffer) WriteFrame(payload []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return EncodeBuffer(b.data, payload)
}

// WithBorrow runs f against the raw bytes of the region under a scoped
// lock; the borrow ends deterministically when f returns. f receives the
// whole region; ReadFrame decodes a single frame given the byte count
// returned by WriteFrame.
func (b *SharedBuffer) WithBorrow(f func(buf []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(b.data)
}

// ReadFrame decodes the frame written by the last WriteFrame call,
// given the byte count it returned.
func (b *SharedBuffer) ReadFrame(byteCount int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, err := DecodeBuffer(b.data, byteCount)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// Close unmaps the region. Safe to call once; the buffer must not be
// used afterward.
func (b *SharedBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	err := unix.Munmap(b.data)
	b.data = nil
	return err
}
