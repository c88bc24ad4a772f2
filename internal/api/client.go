// Package api implements the REST client for the lighting backend: control
// writes for fixtures and groups, bulk actions, and the configuration-layer
// reads used by the reconciliation poller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Client talks to the lighting backend over HTTP. Control writes share a
// rate limiter so a misbehaving caller cannot chatter the DMX layer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for the backend at baseURL (scheme and host,
// no trailing slash). Zero timeout defaults to 10s, zero rate to 20 rps.
func NewClient(baseURL string, timeout time.Duration, rateLimitRPS float64) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if rateLimitRPS == 0 {
		rateLimitRPS = 20.0
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rateLimitRPS), int(rateLimitRPS)),
	}
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string { return c.baseURL }

// SetFixture issues a fixture control write and returns the resulting state.
func (c *Client) SetFixture(ctx context.Context, id int64, req ControlRequest) (*FixtureState, error) {
	var state FixtureState
	if err := c.post(ctx, fmt.Sprintf("/api/control/fixtures/%d", id), req, &state); err != nil {
		return nil, fmt.Errorf("set fixture %d: %w", id, err)
	}
	return &state, nil
}

// SetGroup issues a group control write.
func (c *Client) SetGroup(ctx context.Context, id int64, req ControlRequest) error {
	if err := c.post(ctx, fmt.Sprintf("/api/control/groups/%d", id), req, nil); err != nil {
		return fmt.Errorf("set group %d: %w", id, err)
	}
	return nil
}

// ClearFixtureOverride clears an active manual override on a fixture.
func (c *Client) ClearFixtureOverride(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/control/overrides/fixtures/%d", id), nil, nil); err != nil {
		return fmt.Errorf("clear override for fixture %d: %w", id, err)
	}
	return nil
}

// AllOff turns every fixture off.
func (c *Client) AllOff(ctx context.Context) error {
	if err := c.post(ctx, "/api/control/all-off", nil, nil); err != nil {
		return fmt.Errorf("all-off: %w", err)
	}
	return nil
}

// Panic triggers the panic bulk action (full bright, overrides cleared).
func (c *Client) Panic(ctx context.Context) error {
	if err := c.post(ctx, "/api/control/panic", nil, nil); err != nil {
		return fmt.Errorf("panic: %w", err)
	}
	return nil
}

// Fixtures lists all configured fixtures.
func (c *Client) Fixtures(ctx context.Context) ([]Fixture, error) {
	var out []Fixture
	if err := c.get(ctx, "/api/fixtures/", &out); err != nil {
		return nil, fmt.Errorf("list fixtures: %w", err)
	}
	return out, nil
}

// FixtureModels lists all fixture models.
func (c *Client) FixtureModels(ctx context.Context) ([]FixtureModel, error) {
	var out []FixtureModel
	if err := c.get(ctx, "/api/fixtures/models", &out); err != nil {
		return nil, fmt.Errorf("list fixture models: %w", err)
	}
	return out, nil
}

// Groups lists all groups.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var out []Group
	if err := c.get(ctx, "/api/groups/", &out); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return out, nil
}

// GroupFixtures lists the member fixtures of a group.
func (c *Client) GroupFixtures(ctx context.Context, id int64) ([]Fixture, error) {
	var out []Fixture
	if err := c.get(ctx, fmt.Sprintf("/api/groups/%d/fixtures", id), &out); err != nil {
		return nil, fmt.Errorf("list fixtures of group %d: %w", id, err)
	}
	return out, nil
}

// FixtureState fetches the live state of one fixture.
func (c *Client) FixtureState(ctx context.Context, id int64) (*FixtureState, error) {
	var state FixtureState
	if err := c.get(ctx, fmt.Sprintf("/api/fixtures/%d/state", id), &state); err != nil {
		return nil, fmt.Errorf("fixture %d state: %w", id, err)
	}
	return &state, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// post waits for the rate limiter before writing; reads are not limited.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Backend request failed")
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
