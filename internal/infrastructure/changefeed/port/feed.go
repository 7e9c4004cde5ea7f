package port

import (
	"context"
	"errors"
)

// Kind is the row-level change type carried by a Message.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	// KindResync is emitted by a transport after it re-established a lost
	// connection. Events may have been missed; consumers should reload state.
	KindResync Kind = "RESYNC"
)

// Filter restricts a subscription to rows where Column equals Value.
// It is evaluated server-side.
type Filter struct {
	Column string
	Value  string
}

// Subscription describes what a Stream delivers. An empty Kinds slice means all kinds.
type Subscription struct {
	Table  string
	Kinds  []Kind
	Filter Filter
}

// Wants reports whether k is selected by the subscription.
func (s Subscription) Wants(k Kind) bool {
	if k == KindResync || len(s.Kinds) == 0 {
		return true
	}
	for _, want := range s.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Message is one change notification. Old and New hold the raw JSON rows;
// either may be nil depending on Kind. Rows are kept opaque so that
// transports stay free from domain types.
type Message struct {
	Kind  Kind
	Table string
	Old   []byte
	New   []byte
}

// Stream is a live subscription. Messages are delivered in the order the
// server emitted them. The channel is closed after Close or once the
// subscription context is done.
type Stream interface {
	Messages() <-chan Message
	Close() error
}

// Transport opens subscriptions on a realtime change feed.
// Reconnection after transient failures is the transport's responsibility.
type Transport interface {
	Subscribe(ctx context.Context, sub Subscription) (Stream, error)
}

// ErrInvalidSubscription is returned when a subscription lacks a table or filter.
var ErrInvalidSubscription = errors.New("changefeed: table, filter column and filter value are required")

// Validate checks that the subscription can be scoped server-side.
func (s Subscription) Validate() error {
	if s.Table == "" || s.Filter.Column == "" || s.Filter.Value == "" {
		return ErrInvalidSubscription
	}
	return nil
}
