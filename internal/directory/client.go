package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"classwatch/pkg/types"
)

// Client talks to the device-management REST API. It is deliberately thin:
// bearer auth, JSON decoding, and a bounded request timeout. Everything
// non-2xx maps onto ErrUpstream or ErrNotFound so callers can stay
// transport-agnostic.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     zerolog.Logger
}

// NewClient creates a directory API client. timeout bounds each request
// end to end, keeping worst-case enrichment latency predictable.
func NewClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
}

type deviceListResponse struct {
	Devices []*types.DirectoryRecord `json:"devices"`
}

// ListDevices enumerates every device under an org unit.
func (c *Client) ListDevices(ctx context.Context, orgUnit string) ([]*types.DirectoryRecord, error) {
	endpoint := fmt.Sprintf("%s/devices?orgUnitPath=%s", c.baseURL, url.QueryEscape(orgUnit))

	var list deviceListResponse
	if err := c.getJSON(ctx, endpoint, &list); err != nil {
		return nil, err
	}

	c.log.Debug().Str("org_unit", orgUnit).Int("count", len(list.Devices)).Msg("fetched devices from upstream")
	if list.Devices == nil {
		return []*types.DirectoryRecord{}, nil
	}
	return list.Devices, nil
}

// GetDevice fetches a single device by directory id.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*types.DirectoryRecord, error) {
	endpoint := fmt.Sprintf("%s/devices/%s", c.baseURL, url.PathEscape(deviceID))

	var record types.DirectoryRecord
	if err := c.getJSON(ctx, endpoint, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}
	return nil
}
