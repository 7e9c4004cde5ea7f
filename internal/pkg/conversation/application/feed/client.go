package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Angelica137/kindly/internal/infrastructure/changefeed/port"
	"github.com/Angelica137/kindly/internal/infrastructure/logger"
	"github.com/Angelica137/kindly/internal/infrastructure/metrics"
	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

const (
	// Table is the relation whose rows make up a user's conversation list.
	Table = "user_conversations"
	// FilterColumn scopes the subscription to one user server-side.
	FilterColumn = "user_id"

	eventBuffer = 64
)

var (
	ErrAlreadySubscribed = errors.New("feed: a subscription is already live for this client")
	ErrMissingUser       = errors.New("feed: user id is required to subscribe")
)

// Client owns at most one live change feed subscription and decodes its
// messages into typed conversation events, preserving server order.
type Client struct {
	transport port.Transport
	log       *zap.Logger

	mu     sync.Mutex
	stream port.Stream
	quit   chan struct{}
	done   chan struct{}
}

func NewClient(transport port.Transport, log *zap.Logger) *Client {
	return &Client{transport: transport, log: logger.OrNop(log)}
}

// Subscribe opens the subscription for userID: table user_conversations,
// every event kind, rows filtered by user_id. A second call before Release
// fails with ErrAlreadySubscribed. The returned channel is closed when the
// subscription ends.
func (c *Client) Subscribe(ctx context.Context, userID string) (<-chan conversation.Event, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil, ErrAlreadySubscribed
	}

	stream, err := c.transport.Subscribe(ctx, port.Subscription{
		Table:  Table,
		Filter: port.Filter{Column: FilterColumn, Value: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("feed: subscribe: %w", err)
	}

	events := make(chan conversation.Event, eventBuffer)
	c.stream = stream
	c.quit = make(chan struct{})
	c.done = make(chan struct{})
	go c.pump(stream, events, c.quit, c.done)

	c.log.Debug("conversation_feed_subscribed", zap.String("user_id", userID))
	return events, nil
}

// Release closes the live subscription, if any, and waits until event
// delivery stopped. It is safe to call more than once.
func (c *Client) Release() error {
	c.mu.Lock()
	stream, quit, done := c.stream, c.quit, c.done
	c.stream, c.quit, c.done = nil, nil, nil
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	close(quit)
	err := stream.Close()
	<-done
	return err
}

// Live reports whether a subscription is open.
func (c *Client) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

func (c *Client) pump(stream port.Stream, events chan<- conversation.Event, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(events)

	for {
		select {
		case <-quit:
			return
		case msg, ok := <-stream.Messages():
			if !ok {
				return
			}
			ev, err := Decode(msg)
			if err != nil {
				c.log.Warn("conversation_feed_decode_failed", zap.String("kind", string(msg.Kind)), zap.Error(err))
				continue
			}
			metrics.FeedEvents.WithLabelValues(ev.Kind.String()).Inc()
			select {
			case events <- ev:
			case <-quit:
				return
			}
		}
	}
}

// Decode converts a transport message into a conversation event.
func Decode(msg port.Message) (conversation.Event, error) {
	switch msg.Kind {
	case port.KindInsert:
		next, err := decodeRow(msg.New)
		if err != nil {
			return conversation.Event{}, err
		}
		return conversation.Inserted(next), nil
	case port.KindUpdate:
		next, err := decodeRow(msg.New)
		if err != nil {
			return conversation.Event{}, err
		}
		var old conversation.Row
		if msg.Old != nil {
			if old, err = decodeRow(msg.Old); err != nil {
				return conversation.Event{}, err
			}
		}
		return conversation.Updated(old, next), nil
	case port.KindDelete:
		old, err := decodeRow(msg.Old)
		if err != nil {
			return conversation.Event{}, err
		}
		return conversation.Deleted(old), nil
	case port.KindResync:
		return conversation.Resynced(), nil
	default:
		return conversation.Event{}, fmt.Errorf("feed: unsupported message kind %q", msg.Kind)
	}
}

func decodeRow(raw []byte) (conversation.Row, error) {
	if len(raw) == 0 {
		return conversation.Row{}, conversation.ErrInvalidRow
	}
	var r conversation.Row
	if err := json.Unmarshal(raw, &r); err != nil {
		return conversation.Row{}, fmt.Errorf("feed: decode row: %w", err)
	}
	if r.ID == 0 && r.ConversationID == 0 {
		return conversation.Row{}, conversation.ErrInvalidRow
	}
	return r, nil
}
