//go:build integration

package main

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Bronek/clio/internal/testutil"
	"github.com/Bronek/clio/pkg/ledger"
)

func setupTestRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { redisC.Terminate(ctx) })

	endpoint, err := redisC.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}
	return endpoint
}

func TestGateway_Integration_RedisDOSGuard(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Address = setupTestRedis(t)
	cfg.DOSGuard.Whitelist = nil
	cfg.DOSGuard.MaxRequests = 2
	cfg.DOSGuard.Interval = time.Minute

	g, srv := startGateway(t, cfg)
	require.NoError(t, g.publisher.Publish(context.Background(), testutil.Header(1), []ledger.Object{feeObject()}))

	for i := 0; i < 2; i++ {
		status, _ := postRPC(t, srv.URL, `{"method":"ledger_range"}`)
		require.Equal(t, http.StatusOK, status)
	}

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"method":"ledger_range"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Contains(t, string(body), "slowDown")
}

func TestGateway_Integration_ForwardingCache(t *testing.T) {
	mock := testutil.NewMockRippled()
	defer mock.Close()
	mock.SetResponses("fee", testutil.NewResultResponse(`{"drops":{"base_fee":"10"},"status":"success"}`))

	cfg := testConfig(t)
	cfg.Redis.Address = setupTestRedis(t)
	cfg.Forwarding.URL = mock.URL()
	cfg.Forwarding.CacheTTL = time.Minute

	g, srv := startGateway(t, cfg)
	require.NoError(t, g.publisher.Publish(context.Background(), testutil.Header(1), []ledger.Object{feeObject()}))

	for i := 0; i < 3; i++ {
		status, out := postRPC(t, srv.URL, `{"method":"fee"}`)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, true, out["forwarded"], "response = %v", out)
	}
	require.Equal(t, 1, mock.RequestCount(), "repeated fee requests should be served from redis")
}
