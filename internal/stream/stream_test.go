package stream

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendReceive_RoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sStream := New(server, time.Second)
	cStream := New(client, time.Second)

	msg := []byte("ra-msg-1-payload")
	errCh := make(chan error, 1)
	go func() { errCh <- cStream.Send(msg) }()

	got, err := sStream.Receive()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, msg, got)
}

func TestSendReceive_Empty(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sStream := New(server, time.Second)
	cStream := New(client, time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- cStream.Send(nil) }()

	got, err := sStream.Receive()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Empty(t, got)
}

func TestListenDial_TCP(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0", time.Second)
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan *Stream, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		s, err := ln.Accept()
		acceptCh <- s
		acceptErrCh <- err
	}()

	client, err := Dial("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte("hello")))

	server := <-acceptCh
	require.NoError(t, <-acceptErrCh)
	defer server.Close()

	got, err := server.Receive()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestReceive_OversizeFrameRejected(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sStream := New(server, time.Second)

	go func() {
		hdr := []byte{0xff, 0xff, 0xff, 0xff}
		client.Write(hdr)
	}()

	_, err := sStream.Receive()
	require.Error(t, err)
}
