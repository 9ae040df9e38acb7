package telemetry

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// sseClient runs Subscribe against a live test server and collects raw SSE
// frames until the connection is closed.
type sseClient struct {
	cancel context.CancelFunc
	lines  chan string
	done   chan struct{}
}

func subscribe(t *testing.T, hub *Hub, lastEventID string) *sseClient {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Subscribe(w, r)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))

	c := &sseClient{cancel: cancel, lines: make(chan string, 256), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-c.done
	})
	return c
}

// waitLine waits for the next SSE line matching the prefix.
func (c *sseClient) waitLine(t *testing.T, prefix string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line := <-c.lines:
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-deadline:
			t.Fatalf("no line with prefix %q", prefix)
		}
	}
}

func TestSubscribeReceivesReadyThenEvents(t *testing.T) {
	hub := NewHub(10, time.Hour)
	defer hub.Stop()

	c := subscribe(t, hub, "")
	c.waitLine(t, "event: ready")

	hub.Publish("scanStarted", map[string]any{"scanId": "abc"})
	c.waitLine(t, "event: scanStarted")
	assert.Contains(t, c.waitLine(t, "data:"), `"scanId":"abc"`)
}

func TestEventIDsMonotonic(t *testing.T) {
	hub := NewHub(10, time.Hour)
	defer hub.Stop()

	first := hub.Publish("a", nil)
	second := hub.Publish("b", nil)
	assert.Equal(t, first.ID+1, second.ID)
}

func TestReplayAfterLastEventID(t *testing.T) {
	hub := NewHub(10, time.Hour)
	defer hub.Stop()

	hub.Publish("one", map[string]any{"n": 1})
	hub.Publish("two", map[string]any{"n": 2})
	hub.Publish("three", map[string]any{"n": 3})

	// Resuming after event ID 2 must replay only "three".
	c := subscribe(t, hub, "2")
	c.waitLine(t, "event: ready")
	assert.Equal(t, "event: three", c.waitLine(t, "event: "))
}

func TestReplayBufferBounded(t *testing.T) {
	hub := NewHub(3, time.Hour)
	defer hub.Stop()

	for i := 0; i < 10; i++ {
		hub.Publish("e", nil)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Len(t, hub.buffer, 3)
	assert.Equal(t, int64(8), hub.buffer[0].ID)
}

func TestHeartbeatWhileConnected(t *testing.T) {
	hub := NewHub(10, 20*time.Millisecond)
	defer hub.Stop()

	c := subscribe(t, hub, "")
	c.waitLine(t, "event: ready")
	c.waitLine(t, "event: heartbeat")
}

func TestStopEndsSubscriptions(t *testing.T) {
	hub := NewHub(10, time.Hour)

	c := subscribe(t, hub, "")
	c.waitLine(t, "event: ready")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.Stop()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end on Stop")
	}
}

func TestSubscribeAfterStop(t *testing.T) {
	hub := NewHub(10, time.Hour)
	hub.Stop()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/telemetry", nil)
	err := hub.Subscribe(rec, req)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSlowClientDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(10, time.Hour)
	defer hub.Stop()

	c := subscribe(t, hub, "")
	c.waitLine(t, "event: ready")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			hub.Publish("burst", nil)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow client")
	}
}
