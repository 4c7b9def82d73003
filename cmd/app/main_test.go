package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcompress/internal/config"
)

func TestRun_ListenFailureReturnsError(t *testing.T) {
	log, hook := test.NewNullLogger()
	cfg := config.Defaults()
	cfg.ServerAddr = "127.0.0.1:-1"

	err := run(context.Background(), cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")

	var shutdown bool
	for _, e := range hook.AllEntries() {
		if e.Message == "shutting down" {
			shutdown = true
		}
	}
	assert.True(t, shutdown, "expected graceful shutdown path to run")
}

func TestRun_InvalidTrustedProxiesWarnsAndServes(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := config.Defaults()
	cfg.ServerAddr = addr
	cfg.TrustedProxyCIDRs = "not-a-cidr"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, log) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "invalid TRUSTED_PROXY_CIDRS, forwarded headers will be ignored" {
			warned = true
		}
	}
	assert.True(t, warned, "expected warning for bad proxy list")
}
