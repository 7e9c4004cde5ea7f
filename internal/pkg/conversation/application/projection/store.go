package projection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Angelica137/kindly/internal/infrastructure/logger"
	"github.com/Angelica137/kindly/internal/infrastructure/metrics"
	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

const (
	defaultLookupTimeout = 3 * time.Second
	resultBuffer         = 16
)

// ItemLookup resolves the display fields of an item.
type ItemLookup interface {
	FindItemDisplay(ctx context.Context, itemID string) (conversation.ItemDisplay, error)
}

// Change is one event the store actually applied. Summary is the state after
// the change; for deletes it is the summary that was removed.
type Change struct {
	Kind           conversation.EventKind
	ConversationID int64
	Summary        conversation.Summary
}

// Enrichment is the outcome of the item lookup started for an inserted row.
// It must be handed back to Materialize on the goroutine that owns the store.
type Enrichment struct {
	generation uint64
	row        conversation.Row
	display    *conversation.ItemDisplay
	err        error
}

// ConversationID returns the conversation the lookup was started for.
func (e Enrichment) ConversationID() int64 { return e.row.ConversationID }

type pendingInsert struct {
	row    conversation.Row
	queued []conversation.Event
}

// Store is the in-memory projection of one user's conversations.
//
// An inserted row becomes visible only after its item lookup completes. Until
// then the conversation id is pending and every later event for it is queued,
// then replayed in arrival order by Materialize. Events for other
// conversations are not held back.
//
// Store is not safe for concurrent use; the owner serializes all calls.
type Store struct {
	userID  string
	lookup  ItemLookup
	timeout time.Duration
	log     *zap.Logger

	summaries   []*conversation.Summary
	byConv      map[int64]*conversation.Summary
	byRow       map[int64]*conversation.Summary
	pending     map[int64]*pendingInsert
	pendingRows map[int64]int64 // row id -> conversation id of a pending insert

	generation uint64
	results    chan Enrichment
	closed     chan struct{}
	closeOnce  sync.Once
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithLookupTimeout bounds each item lookup.
func WithLookupTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.log = logger.OrNop(l) }
}

// NewStore constructs an empty store for userID.
func NewStore(userID string, lookup ItemLookup, opts ...StoreOption) *Store {
	s := &Store{
		userID:      userID,
		lookup:      lookup,
		timeout:     defaultLookupTimeout,
		log:         zap.NewNop(),
		byConv:      make(map[int64]*conversation.Summary),
		byRow:       make(map[int64]*conversation.Summary),
		pending:     make(map[int64]*pendingInsert),
		pendingRows: make(map[int64]int64),
		results:     make(chan Enrichment, resultBuffer),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Enrichments delivers completed item lookups.
func (s *Store) Enrichments() <-chan Enrichment { return s.results }

// Apply routes ev to the matching apply function. Resync events are ignored;
// the owner reloads a snapshot and calls Reset instead.
func (s *Store) Apply(ctx context.Context, ev conversation.Event) []Change {
	if s.isClosed() {
		return nil
	}
	switch ev.Kind {
	case conversation.EventInserted:
		if ev.New == nil {
			return nil
		}
		return s.ApplyInsert(ctx, *ev.New)
	case conversation.EventUpdated:
		if ev.New == nil {
			return nil
		}
		var old conversation.Row
		if ev.Old != nil {
			old = *ev.Old
		}
		return s.ApplyUpdate(old, *ev.New)
	case conversation.EventDeleted:
		if ev.Old == nil {
			return nil
		}
		return s.ApplyDelete(*ev.Old)
	default:
		return nil
	}
}

// ApplyInsert starts the item lookup for a new conversation. It returns no
// changes: the summary appears when the lookup result is passed to Materialize.
// Rows of other users and already known or pending conversations are ignored.
func (s *Store) ApplyInsert(ctx context.Context, row conversation.Row) []Change {
	if s.isClosed() {
		return nil
	}
	id := row.ConversationID
	if id == 0 {
		s.log.Warn("conversation_insert_without_id", zap.Int64("row_id", row.ID))
		return nil
	}
	if row.UserID != s.userID {
		s.log.Debug("conversation_insert_foreign_user", zap.Int64("conversation_id", id), zap.String("row_user_id", row.UserID))
		return nil
	}
	if _, ok := s.byConv[id]; ok {
		return nil
	}
	if p, ok := s.pending[id]; ok {
		p.queued = append(p.queued, conversation.Inserted(row))
		return nil
	}

	s.pending[id] = &pendingInsert{row: row}
	if row.ID != 0 {
		s.pendingRows[row.ID] = id
	}
	s.startLookup(ctx, row)
	return nil
}

func (s *Store) startLookup(ctx context.Context, row conversation.Row) {
	gen := s.generation
	timeout := s.timeout
	go func() {
		// Close discards the result; the lookup itself runs to its timeout.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		res := Enrichment{generation: gen, row: row}
		display, err := s.lookup.FindItemDisplay(lctx, row.ItemID)
		if err != nil {
			res.err = err
		} else {
			res.display = &display
		}

		select {
		case s.results <- res:
		case <-s.closed:
		}
	}()
}

// Materialize completes a pending insert with its lookup result and replays
// the events queued behind it. A failed lookup still creates the summary,
// with placeholder item fields. Results from before the last Reset, or
// arriving after Close, are discarded.
func (s *Store) Materialize(ctx context.Context, res Enrichment) []Change {
	if s.isClosed() || res.generation != s.generation {
		return nil
	}
	id := res.row.ConversationID
	p, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	delete(s.pendingRows, p.row.ID)

	if res.err != nil {
		metrics.EnrichmentFailures.Inc()
		s.log.Warn("conversation_item_lookup_failed",
			zap.Int64("conversation_id", id),
			zap.String("item_id", p.row.ItemID),
			zap.Error(res.err),
		)
	}

	summary := conversation.NewSummary(p.row, res.display)
	s.add(&summary)
	changes := []Change{{Kind: conversation.EventInserted, ConversationID: id, Summary: summary}}

	for _, ev := range p.queued {
		changes = append(changes, s.Apply(ctx, ev)...)
	}
	return changes
}

// ApplyUpdate sets the unread flag of an existing conversation. Updates for a
// pending conversation are queued; updates for an unknown one are ignored.
func (s *Store) ApplyUpdate(old, next conversation.Row) []Change {
	if s.isClosed() {
		return nil
	}
	id := next.ConversationID
	if id == 0 {
		id = old.ConversationID
	}
	if id == 0 {
		rowID := next.ID
		if rowID == 0 {
			rowID = old.ID
		}
		id = s.conversationForRow(rowID)
	}
	if id == 0 {
		return nil
	}

	if p, ok := s.pending[id]; ok {
		p.queued = append(p.queued, conversation.Updated(old, next))
		return nil
	}
	summary, ok := s.byConv[id]
	if !ok {
		s.log.Debug("conversation_update_unknown", zap.Int64("conversation_id", id))
		return nil
	}
	summary.HasUnreadMessages = next.HasUnreadMessages
	return []Change{{Kind: conversation.EventUpdated, ConversationID: id, Summary: *summary}}
}

// ApplyDelete removes a conversation, identified by row id when the event
// carries one and by conversation id otherwise.
func (s *Store) ApplyDelete(old conversation.Row) []Change {
	if s.isClosed() {
		return nil
	}
	var id int64
	if old.ID != 0 {
		id = s.conversationForRow(old.ID)
		// Summaries loaded without a row id can only be matched by conversation.
		if known, ok := s.byConv[old.ConversationID]; id == 0 && ok && known.RowID == 0 {
			id = old.ConversationID
		}
	} else {
		id = old.ConversationID
	}
	if id == 0 {
		return nil
	}

	if p, ok := s.pending[id]; ok {
		p.queued = append(p.queued, conversation.Deleted(old))
		return nil
	}
	summary, ok := s.byConv[id]
	if !ok {
		return nil
	}
	removed := *summary
	s.remove(summary)
	return []Change{{Kind: conversation.EventDeleted, ConversationID: id, Summary: removed}}
}

// Reset replaces the store content with a snapshot. Pending inserts are
// dropped and their lookup results will be discarded.
func (s *Store) Reset(snapshot []conversation.Summary) {
	s.generation++
	s.summaries = make([]*conversation.Summary, 0, len(snapshot))
	s.byConv = make(map[int64]*conversation.Summary, len(snapshot))
	s.byRow = make(map[int64]*conversation.Summary, len(snapshot))
	s.pending = make(map[int64]*pendingInsert)
	s.pendingRows = make(map[int64]int64)
	for i := range snapshot {
		if snapshot[i].UserID != "" && snapshot[i].UserID != s.userID {
			continue
		}
		if _, dup := s.byConv[snapshot[i].ConversationID]; dup {
			continue
		}
		summary := snapshot[i]
		s.add(&summary)
	}
}

// Close stops accepting events. Lookups still in flight are not cancelled,
// but their results are dropped.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Summaries returns a copy of the conversations in insertion order.
func (s *Store) Summaries() []conversation.Summary {
	out := make([]conversation.Summary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, *summary)
	}
	return out
}

// Get returns a copy of the summary for conversation id.
func (s *Store) Get(id int64) (conversation.Summary, bool) {
	summary, ok := s.byConv[id]
	if !ok {
		return conversation.Summary{}, false
	}
	return *summary, true
}

// Has reports whether conversation id is materialized.
func (s *Store) Has(id int64) bool {
	_, ok := s.byConv[id]
	return ok
}

// Pending reports whether conversation id is waiting for its item lookup.
func (s *Store) Pending(id int64) bool {
	_, ok := s.pending[id]
	return ok
}

// Len returns the number of materialized conversations.
func (s *Store) Len() int { return len(s.summaries) }

func (s *Store) ref(id int64) *conversation.Summary { return s.byConv[id] }

func (s *Store) conversationForRow(rowID int64) int64 {
	if rowID == 0 {
		return 0
	}
	if summary, ok := s.byRow[rowID]; ok {
		return summary.ConversationID
	}
	return s.pendingRows[rowID]
}

func (s *Store) add(summary *conversation.Summary) {
	s.summaries = append(s.summaries, summary)
	s.byConv[summary.ConversationID] = summary
	if summary.RowID != 0 {
		s.byRow[summary.RowID] = summary
	}
}

func (s *Store) remove(summary *conversation.Summary) {
	delete(s.byConv, summary.ConversationID)
	if summary.RowID != 0 {
		delete(s.byRow, summary.RowID)
	}
	for i, candidate := range s.summaries {
		if candidate == summary {
			s.summaries = append(s.summaries[:i], s.summaries[i+1:]...)
			break
		}
	}
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
