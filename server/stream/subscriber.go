package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/r3labs/sse/v2"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

// Handlers receive the callbacks of one stream subscription.
type Handlers struct {
	// OnOpen is called once the server accepted the subscription
	OnOpen func()

	// OnEvent is called with the data of every non-empty event
	OnEvent func(data []byte)
}

// Subscriber opens a text-event stream and blocks until it ends. It returns nil when ctx is
// cancelled and an error for everything else, including the server closing the stream.
type Subscriber interface {
	Subscribe(ctx context.Context, url string, handlers Handlers) error
}

// SSESubscriber subscribes to server-sent event streams.
type SSESubscriber struct {
	clientID   string
	httpClient *http.Client
}

// NewSSESubscriber creates a subscriber that identifies itself with clientID when set.
func NewSSESubscriber(clientID string) *SSESubscriber {
	return &SSESubscriber{
		clientID:   clientID,
		httpClient: &http.Client{},
	}
}

func (s *SSESubscriber) Subscribe(ctx context.Context, url string, handlers Handlers) error {
	client := sse.NewClient(url)
	client.Connection = s.httpClient

	// Reconnection is owned by the manager
	client.ReconnectStrategy = &backoff.StopBackOff{}

	if s.clientID != "" {
		client.Headers[vma.ClientIDHeader] = s.clientID
	}

	client.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		if handlers.OnOpen != nil {
			handlers.OnOpen()
		}
		return nil
	}

	err := client.SubscribeRawWithContext(ctx, func(event *sse.Event) {
		if len(event.Data) == 0 || handlers.OnEvent == nil {
			return
		}
		handlers.OnEvent(event.Data)
	})

	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream failed: %w", err)
	}
	return errStreamClosed
}
