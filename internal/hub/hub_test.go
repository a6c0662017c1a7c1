package hub

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
	"go.uber.org/zap"

	"contentgraph/internal/service"
)

func TestHubStreamsBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(zap.NewNop())
	go h.Run(ctx)
	bus := service.NewEventBus()
	go h.Forward(ctx, bus)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	// Forward subscribes asynchronously; publish until the event shows up
	go func() {
		for i := 0; i < 50 && ctx.Err() == nil; i++ {
			bus.Publish(service.Event{
				Type:    service.EventBackRefsUpdated,
				Payload: service.BackRefsPayload{Source: "a", Touched: []string{"b"}},
			})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	assert.Equal(t, "event: backrefs_updated", lines[0])
	assert.Equal(t, `data: {"source":"a","touched":["b"]}`, lines[1])
}

func TestFormat(t *testing.T) {
	msg, err := format(service.Event{Type: service.EventImportFailed, Payload: map[string]string{"error": "boom"}})
	require.NoError(t, err)
	assert.Equal(t, "event: import_failed\ndata: {\"error\":\"boom\"}\n\n", string(msg))
}
