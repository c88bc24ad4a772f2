// Package push consumes the backend's state-change push channel and
// publishes typed messages onto the event bus. The transport is deliberately
// dumb: it knows nothing about reconciliation, so it can be swapped (polling
// fallback, different protocols) without touching engine logic.
package push

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mattsoldo/lumctl/internal/eventbus"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect
// attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// MessageType discriminates push messages.
type MessageType string

// Push message types
const (
	TypeFixtureStateChanged MessageType = "fixture_state_changed"
	TypeGroupStateChanged   MessageType = "group_state_changed"
)

// Message is a single state-change notification. Brightness is on the wire
// scale (0.0-1.0).
type Message struct {
	Type       MessageType `json:"type"`
	FixtureID  int64       `json:"fixture_id,omitempty"`
	GroupID    int64       `json:"group_id,omitempty"`
	Brightness float64     `json:"brightness"`
	ColorTemp  *int        `json:"color_temp,omitempty"`
}

// Connectivity reports push channel health transitions.
type Connectivity struct {
	Connected bool
}

// Config contains reconnection settings for the stream.
type Config struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

// DefaultConfig returns sensible defaults for stream reconnection.
func DefaultConfig() Config {
	return Config{
		MinBackoff:    1 * time.Second,
		MaxBackoff:    2 * time.Minute,
		Multiplier:    2.0,
		MaxReconnects: 0, // infinite
	}
}

// Stream listens to the backend event channel (SSE).
type Stream struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	config     Config
}

// NewStream creates a stream for the backend at baseURL.
func NewStream(baseURL string, config Config) *Stream {
	return &Stream{
		baseURL:  baseURL,
		clientID: uuid.NewString(),
		httpClient: &http.Client{
			// No timeout - this is a long-lived connection
		},
		config: config,
	}
}

// ClientID returns the connection identity sent to the backend. The backend
// uses it to avoid echoing a client's own writes back to it.
func (s *Stream) ClientID() string { return s.clientID }

// Run listens to the event channel with automatic reconnection. Returns
// ErrMaxReconnectsExceeded when the reconnect budget is spent.
func (s *Stream) Run(ctx context.Context, bus *eventbus.Bus) error {
	retryCount := 0
	currentBackoff := s.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := s.connect(ctx, bus)
		bus.Publish(eventbus.Event{Type: eventbus.EventTypeConnectivity, Data: Connectivity{Connected: false}})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			retryCount++
			if s.config.MaxReconnects > 0 && retryCount > s.config.MaxReconnects {
				log.Error().
					Int("max_reconnects", s.config.MaxReconnects).
					Msg("Push stream: max reconnects exceeded, terminating")
				return ErrMaxReconnectsExceeded
			}

			log.Warn().
				Err(err).
				Dur("backoff", currentBackoff).
				Int("retry", retryCount).
				Msg("Push stream disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(currentBackoff):
			}

			nextBackoff := time.Duration(float64(currentBackoff) * s.config.Multiplier)
			if nextBackoff > s.config.MaxBackoff {
				nextBackoff = s.config.MaxBackoff
			}
			currentBackoff = nextBackoff
			continue
		}

		// Clean EOF (server restart). Reset backoff and reconnect.
		retryCount = 0
		currentBackoff = s.config.MinBackoff
	}
}

func (s *Stream) connect(ctx context.Context, bus *eventbus.Bus) error {
	url := s.baseURL + "/api/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Client-ID", s.clientID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	log.Info().Str("url", url).Msg("Connected to push stream")
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeConnectivity, Data: Connectivity{Connected: true}})

	scanner := bufio.NewScanner(resp.Body)
	var dataBuffer strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		// Comment lines are keep-alives
		if strings.HasPrefix(line, ":") {
			continue
		}

		// Empty line marks end of event
		if line == "" {
			if dataBuffer.Len() > 0 {
				s.processEvent(dataBuffer.String(), bus)
				dataBuffer.Reset()
			}
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			dataBuffer.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	return scanner.Err()
}

func (s *Stream) processEvent(data string, bus *eventbus.Bus) {
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		log.Warn().Err(err).Str("data", data).Msg("Failed to parse push message")
		return
	}

	switch msg.Type {
	case TypeFixtureStateChanged:
		log.Debug().
			Int64("fixture_id", msg.FixtureID).
			Float64("brightness", msg.Brightness).
			Msg("Fixture state push")
		bus.Publish(eventbus.Event{Type: eventbus.EventTypeFixtureState, Data: msg})

	case TypeGroupStateChanged:
		log.Debug().
			Int64("group_id", msg.GroupID).
			Float64("brightness", msg.Brightness).
			Msg("Group state push")
		bus.Publish(eventbus.Event{Type: eventbus.EventTypeGroupState, Data: msg})

	default:
		log.Trace().Str("type", string(msg.Type)).Msg("Unhandled push message type")
	}
}
