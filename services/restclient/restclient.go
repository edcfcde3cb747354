package restclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/config"
	"github.com/karansahani78/sattrack/ds"
	"github.com/karansahani78/sattrack/services"
)

// Client consumes the backend position API: current position for an
// entity (with optional observer coordinates) and track over a time
// window. A not-found status means "no data yet" and is an empty
// result, never an error.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(cfg *config.Config) services.PositionFetcher {
	return &Client{
		baseURL: cfg.Rest.BaseURL,
		httpc:   &http.Client{Timeout: cfg.RestTimeout()},
	}
}

// NewWithBaseURL is the test seam; timeouts come from the caller's ctx.
func NewWithBaseURL(baseURL string) *Client {
	return &Client{baseURL: baseURL, httpc: &http.Client{}}
}

func (c *Client) CurrentPosition(ctx context.Context, entity common.EntityID, obs *ds.Observer) (*ds.Position, error) {
	endpoint := fmt.Sprintf("%s/api/v1/satellites/%s/position", c.baseURL, url.PathEscape(string(entity)))
	if obs != nil {
		q := url.Values{}
		q.Set("lat", strconv.FormatFloat(obs.Latitude, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(obs.Longitude, 'f', -1, 64))
		q.Set("alt", strconv.FormatFloat(obs.Altitude, 'f', -1, 64))
		endpoint += "?" + q.Encode()
	}

	body, err := c.get(ctx, endpoint)
	if err != nil || body == nil {
		return nil, err
	}
	pos, err := ds.DecodePosition(body)
	if err != nil {
		return nil, fmt.Errorf("current position for %s: %w", entity, err)
	}
	return pos, nil
}

func (c *Client) Track(ctx context.Context, entity common.EntityID, from, to time.Time, step time.Duration) ([]*ds.Position, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	q.Set("step", strconv.FormatInt(int64(step.Seconds()), 10))
	endpoint := fmt.Sprintf("%s/api/v1/satellites/%s/track?%s", c.baseURL, url.PathEscape(string(entity)), q.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return []*ds.Position{}, nil
	}
	track, err := ds.DecodePositionList(body)
	if err != nil {
		return nil, fmt.Errorf("track for %s: %w", entity, err)
	}
	return track, nil
}

// get returns (nil, nil) on 404: no data yet for this entity.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
