package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

func newEventServer(t *testing.T, events []string, hold bool) (*httptest.Server, *atomic.Value) {
	clientID := &atomic.Value{}
	clientID.Store("")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID.Store(r.Header.Get(vma.ClientIDHeader))

		flusher := w.(http.Flusher)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for _, event := range events {
			fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()
		}

		if hold {
			<-r.Context().Done()
		}
	}))
	t.Cleanup(server.Close)

	return server, clientID
}

func TestSSESubscriber_Subscribe(t *testing.T) {
	server, clientID := newEventServer(t, []string{`{"message":"first"}`, `{"message":"second"}`}, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var opened int32
	received := make(chan string, 2)

	done := make(chan error, 1)
	go func() {
		done <- NewSSESubscriber("mattermost-vma").Subscribe(ctx, server.URL, Handlers{
			OnOpen:  func() { atomic.AddInt32(&opened, 1) },
			OnEvent: func(data []byte) { received <- string(data) },
		})
	}()

	for _, expected := range []string{`{"message":"first"}`, `{"message":"second"}`} {
		select {
		case data := <-received:
			assert.Equal(t, expected, data)
		case <-time.After(2 * time.Second):
			require.Fail(t, "timed out waiting for event")
		}
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&opened))
	assert.Equal(t, "mattermost-vma", clientID.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancelling is not an error")
	case <-time.After(2 * time.Second):
		require.Fail(t, "subscribe did not return after cancel")
	}
}

func TestSSESubscriber_ServerClosesStream(t *testing.T) {
	server, _ := newEventServer(t, []string{`{"message":"bye"}`}, false)

	err := NewSSESubscriber("").Subscribe(context.Background(), server.URL, Handlers{
		OnEvent: func([]byte) {},
	})
	assert.Error(t, err)
}

func TestSSESubscriber_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var opened int32
	err := NewSSESubscriber("").Subscribe(context.Background(), server.URL, Handlers{
		OnOpen:  func() { atomic.AddInt32(&opened, 1) },
		OnEvent: func([]byte) {},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(0), atomic.LoadInt32(&opened))
}
