package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, health error) *httptest.Server {
	t.Helper()
	tr := &httpServerTransport{}
	tr.RegisterHandler(func(_ context.Context, req []byte) []byte {
		return append([]byte("echo:"), req...)
	})
	tr.RegisterHealthCheck(func(context.Context) (any, error) {
		return map[string]uint64{"applied_index": 7}, health
	})
	srv := httptest.NewServer(tr.mux())
	t.Cleanup(srv.Close)
	return srv
}

func closedAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func connect(t *testing.T, config common.ClientConfig) *httpClientTransport {
	t.Helper()
	tr := NewHttpClientTransport().(*httpClientTransport)
	require.NoError(t, tr.Connect(config))
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestSendAndReceive(t *testing.T) {
	srv := startTestServer(t, nil)
	tr := connect(t, common.ClientConfig{Endpoints: []string{srv.URL}, TimeoutSecond: 5})

	resp, err := tr.Send(context.Background(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(resp))
	assert.Equal(t, 1, tr.Endpoints())
}

func TestSendSkipsUnreachableEndpoints(t *testing.T) {
	srv := startTestServer(t, nil)
	tr := connect(t, common.ClientConfig{
		Endpoints:     []string{closedAddress(t), srv.Listener.Addr().String()},
		TimeoutSecond: 5,
		RetryCount:    2,
	})

	resp, err := tr.Send(context.Background(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(resp))

	// the reachable endpoint stays current
	resp, err = tr.Send(context.Background(), []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, "echo:again", string(resp))
}

func TestRotateSkipsRecentlyUnreachable(t *testing.T) {
	live := startTestServer(t, nil).Listener.Addr().String()
	tr := connect(t, common.ClientConfig{
		Endpoints:     []string{closedAddress(t), live, live},
		TimeoutSecond: 5,
		RetryCount:    3,
	})

	_, err := tr.Send(context.Background(), []byte("ping"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, tr.current.Load())

	tests := []struct {
		name string
		want uint32
	}{
		{name: "next healthy", want: 2},
		{name: "skips failed endpoint", want: 1},
		{name: "again", want: 2},
	}
	for _, tt := range tests {
		tr.Rotate()
		assert.Equal(t, tt.want, tr.current.Load(), tt.name)
	}

	// once the cooldown passed the endpoint is tried again
	tr.unreachable.Store(0, time.Now().Add(-endpointCooldown))
	tr.Rotate()
	assert.EqualValues(t, 0, tr.current.Load())
}

func TestRotateWithAllEndpointsUnreachable(t *testing.T) {
	tr := connect(t, common.ClientConfig{
		Endpoints:     []string{closedAddress(t), closedAddress(t)},
		TimeoutSecond: 5,
		RetryCount:    4,
	})

	_, err := tr.Send(context.Background(), []byte("ping"))
	require.Error(t, err)
	assert.Equal(t, 2, tr.unreachable.Size())

	before := tr.current.Load()
	tr.Rotate()
	assert.Equal(t, (before+1)%2, tr.current.Load())
}

func TestSendFailsWithoutReachableEndpoint(t *testing.T) {
	tr := connect(t, common.ClientConfig{Endpoints: []string{closedAddress(t)}, RetryCount: 3})
	_, err := tr.Send(context.Background(), []byte("ping"))
	assert.Error(t, err)
}

func TestConnectRequiresEndpoints(t *testing.T) {
	assert.Error(t, NewHttpClientTransport().Connect(common.ClientConfig{}))
	_, err := NewHttpClientTransport().Send(context.Background(), nil)
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		health error
		code   int
		status string
	}{
		{"healthy", nil, http.StatusOK, "ok"},
		{"no leader", errors.New("no leader elected"), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startTestServer(t, tt.health)
			resp, err := http.Get(srv.URL + "/healthz")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, body["status"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := startTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/rpc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
