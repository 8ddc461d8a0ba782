package vma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mattermost/mattermost-plugin-vma/server/logging"
)

const (
	// DefaultRequestTimeout bounds a single REST fetch
	DefaultRequestTimeout = 10 * time.Second

	// maxResponseBytes caps how much of an alerts document is read
	maxResponseBytes = 8 << 20
)

// ClientConfig configures the REST fetch client.
type ClientConfig struct {
	Endpoints Endpoints

	// Timeout bounds each request, including reading the body
	Timeout time.Duration

	// Retries is how many extra attempts are made on connection errors and 5xx responses
	Retries int

	// ClientID is sent in the client identifier header when set
	ClientID string
}

// Client fetches alerts from the REST endpoint of each source.
type Client struct {
	endpoints  Endpoints
	clientID   string
	httpClient *retryablehttp.Client
	logger     logging.Logger
}

// NewClient creates a new fetch client
func NewClient(config ClientConfig, logger logging.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	httpClient := retryablehttp.NewClient()
	httpClient.HTTPClient.Timeout = timeout
	httpClient.RetryMax = config.Retries
	httpClient.RetryWaitMin = 500 * time.Millisecond
	httpClient.RetryWaitMax = 2 * time.Second
	httpClient.Logger = logger

	return &Client{
		endpoints:  config.Endpoints,
		clientID:   config.ClientID,
		httpClient: httpClient,
		logger:     logger,
	}
}

// FetchAlerts returns the current alerts of source. It never fails: any network, timeout, HTTP
// or payload error is logged and reported as an empty list, which callers must read as
// "nothing available right now" rather than "everything was cancelled".
func (c *Client) FetchAlerts(ctx context.Context, source Source) []Alert {
	alerts, err := c.fetch(ctx, source)
	if err != nil {
		c.logger.Warn("Failed to fetch alerts", "source", source.String(), "error", err.Error())
		return []Alert{}
	}

	c.logger.Debug("Fetched alerts", "source", source.String(), "alertCount", len(alerts))
	return alerts
}

func (c *Client) fetch(ctx context.Context, source Source) ([]Alert, error) {
	endpoint, ok := c.endpoints[source]
	if !ok || endpoint.AlertsURL == "" {
		return nil, fmt.Errorf("no alerts endpoint configured for %s", source)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint.AlertsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create alerts request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.Header.Set(ClientIDHeader, c.clientID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alerts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	var alertsResp AlertsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&alertsResp); err != nil {
		return nil, fmt.Errorf("failed to parse alerts response: %w", err)
	}

	if alertsResp.Alerts == nil {
		return []Alert{}, nil
	}
	return alertsResp.Alerts, nil
}

// ClientIDHeader identifies this installation to the VMA API on both REST and stream requests.
const ClientIDHeader = "X-Client-Id"
