// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteFrame(&buf, []byte(`{"hello":"world"}`))
	require.NoError(t, err)
	assert.Equal(t, 4+len(`{"hello":"world"}`), n)

	payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(payload))
}

func TestWriteReadFrame_Empty(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteFrame(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestEncodeDecodeBuffer_RoundTrip(t *testing.T) {
	region := make([]byte, 64)
	n, err := EncodeBuffer(region, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, 4+len(`{"a":1}`), n)

	got, err := DecodeBuffer(region, n)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))
}

func TestDecodeBuffer_RejectsShortByteCount(t *testing.T) {
	_, err := DecodeBuffer(make([]byte, 16), 2)
	assert.Error(t, err)
}

func TestDecodeBuffer_RejectsByteCountBeyondBuffer(t *testing.T) {
	_, err := DecodeBuffer(make([]byte, 16), 32)
	assert.Error(t, err)
}

func TestDecodeBuffer_RejectsLengthOverrun(t *testing.T) {
	region := make([]byte, 16)
	// Claim a 100-byte payload in a 16-byte region.
	region[0], region[1], region[2], region[3] = 100, 0, 0, 0
	_, err := DecodeBuffer(region, 16)
	assert.Error(t, err)
}

func TestEncodeBuffer_RejectsOverflow(t *testing.T) {
	_, err := EncodeBuffer(make([]byte, 4), []byte("too long"))
	assert.Error(t, err)
}
