package push_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattsoldo/lumctl/internal/eventbus"
	"github.com/mattsoldo/lumctl/internal/push"
)

func testConfig() push.Config {
	return push.Config{
		MinBackoff:    time.Millisecond,
		MaxBackoff:    5 * time.Millisecond,
		Multiplier:    2.0,
		MaxReconnects: 1,
	}
}

func TestStreamDeliversMessages(t *testing.T) {
	var connects atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/events", r.URL.Path)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NotEmpty(t, r.Header.Get("X-Client-ID"))

		if connects.Add(1) > 1 {
			// Refuse reconnects so Run terminates
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(": keep-alive\n\n"))
		_, _ = w.Write([]byte("data: {\"type\":\"fixture_state_changed\",\"fixture_id\":7,\"brightness\":0.5,\"color_temp\":3000}\n\n"))
		_, _ = w.Write([]byte("data: {\"type\":\"group_state_changed\",\"group_id\":2,\"brightness\":0.8}\n\n"))
	}))
	defer server.Close()

	bus := eventbus.NewWithConfig(1, 16)
	defer bus.Close(context.Background())

	received := make(chan push.Message, 4)
	collect := func(ev eventbus.Event) {
		if msg, ok := ev.Data.(push.Message); ok {
			received <- msg
		}
	}
	bus.Subscribe(eventbus.EventTypeFixtureState, collect)
	bus.Subscribe(eventbus.EventTypeGroupState, collect)

	stream := push.NewStream(server.URL, testConfig())
	err := stream.Run(context.Background(), bus)
	require.ErrorIs(t, err, push.ErrMaxReconnectsExceeded)

	var msgs []push.Message
	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			msgs = append(msgs, msg)
		case <-time.After(time.Second):
			t.Fatalf("got %d messages, want 2", len(msgs))
		}
	}

	require.Equal(t, push.TypeFixtureStateChanged, msgs[0].Type)
	assert.Equal(t, int64(7), msgs[0].FixtureID)
	assert.Equal(t, 0.5, msgs[0].Brightness)
	require.NotNil(t, msgs[0].ColorTemp)
	assert.Equal(t, 3000, *msgs[0].ColorTemp)

	require.Equal(t, push.TypeGroupStateChanged, msgs[1].Type)
	assert.Equal(t, int64(2), msgs[1].GroupID)
	assert.Equal(t, 0.8, msgs[1].Brightness)
}

func TestStreamReconnectsAfterCleanClose(t *testing.T) {
	var connects atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connects.Add(1)
		if n <= 2 {
			// Clean close: backend restarted, stream should come right back
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	bus := eventbus.NewWithConfig(1, 16)
	defer bus.Close(context.Background())

	stream := push.NewStream(server.URL, testConfig())
	err := stream.Run(context.Background(), bus)

	require.ErrorIs(t, err, push.ErrMaxReconnectsExceeded)
	// Two clean closes don't burn the reconnect budget; the two refusals do.
	assert.Equal(t, int32(4), connects.Load())
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	bus := eventbus.NewWithConfig(1, 16)
	defer bus.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stream := push.NewStream(server.URL, testConfig())
	go func() { done <- stream.Run(ctx, bus) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on context cancel")
	}
}

func TestStreamClientIDStable(t *testing.T) {
	stream := push.NewStream("http://localhost", push.DefaultConfig())
	require.NotEmpty(t, stream.ClientID())
	assert.Equal(t, stream.ClientID(), stream.ClientID())
}
