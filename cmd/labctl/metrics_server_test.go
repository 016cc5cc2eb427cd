package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartMetricsServerDisabledWhenAddrEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An empty addr returns before any server is built. The Listen below
	// only confirms the host can still open a listener afterwards; it does
	// not detect whether a server was started.
	startMetricsServer(ctx, "")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	l.Close()
}

func TestStartMetricsServerBindError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	defer l.Close()
	addr := l.Addr().String()

	startMetricsServer(ctx, addr)
	time.Sleep(200 * time.Millisecond)
}
