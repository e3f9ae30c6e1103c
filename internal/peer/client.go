// Package peer talks to sibling applications serving the same domain on
// localhost and tracks which of them are reachable.
package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	peersync "github.com/hyperengineering/peersync/internal/sync"
	"github.com/hyperengineering/peersync/internal/types"
)

var (
	// ErrPeerUnreachable indicates the peer did not answer within the
	// request timeout or refused the connection.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrBindConflict indicates every port of the domain window is taken.
	ErrBindConflict = errors.New("no free port in domain window")

	// ErrNotPeer indicates the listener answered but is not a sibling for
	// this domain.
	ErrNotPeer = errors.New("listener is not a peer for this domain")
)

// DefaultTimeout bounds every RPC to a peer.
const DefaultTimeout = 3 * time.Second

// APIPrefix is the path prefix of every sync route.
const APIPrefix = "/sync/v1"

// Problem mirrors the RFC 7807 body returned by peers on failure.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// RemoteError is returned when the peer answers with a non-2xx status.
type RemoteError struct {
	StatusCode int
	Problem    Problem
}

func (e *RemoteError) Error() string {
	if e.Problem.Detail != "" {
		return fmt.Sprintf("peer returned %d: %s", e.StatusCode, e.Problem.Detail)
	}
	return fmt.Sprintf("peer returned %d", e.StatusCode)
}

// Client issues sync RPCs to peers on one host.
type Client struct {
	host   string
	apiKey string
	http   *http.Client
}

// NewClient creates a client. A zero timeout selects DefaultTimeout.
func NewClient(host, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		host:   host,
		apiKey: apiKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Identify performs the discovery handshake against port.
func (c *Client) Identify(ctx context.Context, port int, d types.Domain) (*types.Identity, error) {
	var id types.Identity
	if err := c.do(ctx, http.MethodGet, port, d, "identify", nil, &id); err != nil {
		return nil, err
	}
	if id.Domain != d || id.AppID == "" {
		return nil, fmt.Errorf("%w: port %d answered for %q", ErrNotPeer, port, id.Domain)
	}
	return &id, nil
}

// Push delivers entities to the peer listening on port.
func (c *Client) Push(ctx context.Context, port int, d types.Domain, req *peersync.PushRequest) (*peersync.PushResponse, error) {
	var resp peersync.PushResponse
	if err := c.do(ctx, http.MethodPost, port, d, "push", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Snapshot pulls the full table of the peer listening on port.
func (c *Client) Snapshot(ctx context.Context, port int, d types.Domain) (*peersync.SnapshotResponse, error) {
	var resp peersync.SnapshotResponse
	if err := c.do(ctx, http.MethodGet, port, d, "snapshot", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the process-level health route of the listener on port.
func (c *Client) Health(ctx context.Context, port int) (*peersync.HealthResponse, error) {
	var resp peersync.HealthResponse
	if err := c.send(ctx, http.MethodGet, c.baseURL(port)+"/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) baseURL(port int) string {
	return "http://" + net.JoinHostPort(c.host, strconv.Itoa(port)) + APIPrefix
}

func (c *Client) do(ctx context.Context, method string, port int, d types.Domain, action string, in, out any) error {
	return c.send(ctx, method, c.baseURL(port)+"/"+string(d)+"/"+action, in, out)
}

// send issues an authenticated request. Transport failures wrap
// ErrPeerUnreachable; non-2xx answers are returned as *RemoteError.
func (c *Client) send(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrPeerUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		remote := &RemoteError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, &remote.Problem)
		return remote
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
