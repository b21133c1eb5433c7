// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenDialSendRecv(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "worker.sock")

	ln, err := Listen(sock)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan Envelope, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		env, err := conn.Recv()
		if err != nil {
			return
		}
		serverDone <- env
		_ = conn.Send(Envelope{ID: env.ID, Kind: KindResponse, Value: []byte(`{"status":"created"}`)})
	}()

	client, err := Dial(sock)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(Envelope{
		ID:     1,
		Kind:   KindRequest,
		Handle: "kernel-0",
		Method: "create_session",
		Args:   []byte(`["sess-1"]`),
	}))

	resp, err := client.Recv()
	require.NoError(t, err)
	assert.Equal(t, KindResponse, resp.Kind)
	assert.JSONEq(t, `{"status":"created"}`, string(resp.Value))

	received := <-serverDone
	assert.Equal(t, "create_session", received.Method)
}

func TestListen_RemovesStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "worker.sock")

	ln1, err := Listen(sock)
	require.NoError(t, err)
	ln1.Close()

	ln2, err := Listen(sock)
	require.NoError(t, err)
	defer ln2.Close()
}
