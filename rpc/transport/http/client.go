package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/ValentinKolb/piebus/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// endpointCooldown is how long Rotate skips an endpoint after a failed dial.
const endpointCooldown = 5 * time.Second

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	current    atomic.Uint32
	retryCount int

	// unreachable maps an endpoint index to its last failed dial. It is
	// written by every concurrent Send.
	unreachable *xsync.MapOf[int, time.Time]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (transport *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	// Parse each server URL
	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		if !strings.Contains(server, "://") {
			server = "http://" + server
		}
		parsedURL, err := url.Parse(server)
		if err != nil {
			return err
		}
		parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/") + "/rpc"
		parsedURLs[i] = parsedURL
	}

	timeout := time.Duration(config.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// Create client with default transport
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: max(config.ConnectionsPerEndpoint, 2),
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// Set the client and server URLs
	transport.client = client
	transport.serverURLs = parsedURLs
	transport.current.Store(0)
	transport.unreachable = xsync.NewMapOf[int, time.Time]()
	transport.retryCount = max(config.RetryCount, 1)

	// No error
	return nil
}

func (transport *httpClientTransport) Send(ctx context.Context, req []byte) (resp []byte, err error) {
	// Check if the transport is initialized
	if transport.client == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}

	// Send the request (connection failures move on to the next endpoint)
	var httpResponse *http.Response
	for i := 0; i < transport.retryCount; i++ {
		idx := int(transport.current.Load()) % len(transport.serverURLs)
		serverURL := transport.serverURLs[idx]

		var httpRequest *http.Request
		httpRequest, err = http.NewRequestWithContext(ctx, http.MethodPost, serverURL.String(), bytes.NewReader(req))
		if err != nil {
			return nil, err
		}
		httpRequest.Header.Set("Content-Type", "application/octet-stream")

		httpResponse, err = transport.client.Do(httpRequest)
		if err == nil {
			transport.unreachable.Delete(idx)
			break
		}
		if !isDialError(err) || ctx.Err() != nil {
			return nil, err
		}
		transport.unreachable.Store(idx, time.Now())
		Logger.Warningf("endpoint %s unreachable, trying next: %v", serverURL.Host, err)
		transport.Rotate()
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	// Check if the response status code is OK
	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: %s", httpResponse.Status)
	}

	// Read the response body
	return io.ReadAll(httpResponse.Body)
}

// Rotate moves to the next endpoint that has not failed a dial within
// endpointCooldown. If all of them have, it moves to the next one.
func (transport *httpClientTransport) Rotate() {
	n := len(transport.serverURLs)
	if n == 0 || transport.unreachable == nil {
		transport.current.Add(1)
		return
	}
	cur := int(transport.current.Load()) % n
	for i := 1; i < n; i++ {
		next := (cur + i) % n
		if !transport.coolingDown(next) {
			transport.current.Store(uint32(next))
			return
		}
	}
	transport.current.Store(uint32((cur + 1) % n))
}

func (transport *httpClientTransport) coolingDown(idx int) bool {
	failed, ok := transport.unreachable.Load(idx)
	return ok && time.Since(failed) < endpointCooldown
}

func (transport *httpClientTransport) Endpoints() int {
	return len(transport.serverURLs)
}

func (transport *httpClientTransport) Close() error {
	// Close the client
	if transport.client != nil {
		transport.client.CloseIdleConnections()
	}

	// Reset the client and server URLs
	transport.client = nil
	transport.serverURLs = nil

	return nil
}

// isDialError reports whether err happened before the request was sent.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
