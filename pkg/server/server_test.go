package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethpandaops/bookkeeping/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	errDown := errors.New("store unreachable")

	tests := []struct {
		name       string
		ready      ReadinessFunc
		path       string
		wantStatus int
	}{
		{name: "health", path: "/health", wantStatus: http.StatusOK},
		{name: "ready without check", path: "/ready", wantStatus: http.StatusOK},
		{
			name:       "ready",
			ready:      func(context.Context) error { return nil },
			path:       "/ready",
			wantStatus: http.StatusOK,
		},
		{
			name:       "not ready",
			ready:      func(context.Context) error { return errDown },
			path:       "/ready",
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "health ignores readiness",
			ready:      func(context.Context) error { return errDown },
			path:       "/health",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(testutil.NewLogger(), &Config{}, tt.ready)

			rec := httptest.NewRecorder()
			srv.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	addr := "127.0.0.1:0"
	cfg := &Config{HealthCheckAddr: &addr, PProfAddr: &addr, ShutdownTimeout: time.Second}

	srv := NewServer(testutil.NewLogger(), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RunFailsOnBusyAddress(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer l.Close()

	addr := l.Addr().String()
	srv := NewServer(testutil.NewLogger(), &Config{HealthCheckAddr: &addr, ShutdownTimeout: time.Second}, nil)

	err = srv.Run(context.Background())
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	cfg = Config{ShutdownTimeout: -time.Second}
	require.ErrorIs(t, cfg.Validate(), ErrInvalidShutdownTimeout)
}
