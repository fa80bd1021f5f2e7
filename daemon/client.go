package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wirewarden/api/daemonapi"
)

// Fetch failures the reconciler branches on. Both are authoritative
// deletion signals: the control plane rejected the token or no longer has
// the server.
var (
	ErrUnauthorized = errors.New("api token rejected")
	ErrNotFound     = errors.New("server not found")
)

// ServerError is any other non-2xx answer. The reconciler treats it as
// transient and retries next cycle.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("control plane returned %d: %s", e.Status, e.Body)
}

// Gone reports whether err means the server no longer exists upstream and
// its interface should be torn down.
func Gone(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound)
}

// Fetcher retrieves the desired state for one config entry. Tests
// substitute handcrafted results and failures.
type Fetcher interface {
	FetchConfig(ctx context.Context, host, token string) (daemonapi.Config, error)
}

// Client fetches desired state from the control plane over HTTP.
type Client struct {
	http *http.Client
}

// NewClient builds the daemon's HTTP client with tracing on every fetch.
func NewClient() *Client {
	return &Client{http: &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}}
}

// FetchConfig retrieves the desired state for one server entry.
func (c *Client) FetchConfig(ctx context.Context, host, token string) (daemonapi.Config, error) {
	url := strings.TrimRight(host, "/") + "/api/daemon/config"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return daemonapi.Config{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return daemonapi.Config{}, fmt.Errorf("fetch desired state: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return daemonapi.Config{}, ErrUnauthorized
	case http.StatusNotFound:
		return daemonapi.Config{}, ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return daemonapi.Config{}, &ServerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var config daemonapi.Config
	if err := json.NewDecoder(resp.Body).Decode(&config); err != nil {
		return daemonapi.Config{}, fmt.Errorf("decode desired state: %w", err)
	}
	return config, nil
}
