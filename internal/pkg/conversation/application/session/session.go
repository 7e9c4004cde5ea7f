package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Angelica137/kindly/internal/infrastructure/logger"
	"github.com/Angelica137/kindly/internal/infrastructure/metrics"
	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/projection"
)

const defaultSnapshotTimeout = 5 * time.Second

var (
	ErrAlreadyOpen = errors.New("session: already open")
	ErrClosed      = errors.New("session: closed")
)

// Subscriber is the change feed as seen by a session. *feed.Client satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan conversation.Event, error)
	Release() error
}

// SnapshotLoader returns the enriched conversations of a user.
type SnapshotLoader interface {
	ListUserConversations(ctx context.Context, userID string) ([]conversation.Summary, error)
}

// ReadMarker schedules clearing the unread flag of a conversation. The flag
// itself only changes when the resulting row update comes back on the feed.
type ReadMarker interface {
	MarkRead(ctx context.Context, userID string, conversationID int64) error
}

type Deps struct {
	Feed            Subscriber
	Lookup          projection.ItemLookup
	Snapshots       SnapshotLoader
	Reads           ReadMarker // optional
	LookupTimeout   time.Duration
	SnapshotTimeout time.Duration
	Log             *zap.Logger
}

// View is an immutable copy of the session state.
type View struct {
	Conversations []conversation.Summary
	Unread        []int64
	Selection     conversation.SelectionState
	Current       *conversation.Summary
}

// Session is the realtime conversation engine of one connected user. A single
// reducer goroutine applies feed events and item lookup results to the store,
// then folds every applied change into the unread tracker and the selection.
type Session struct {
	ID     string
	UserID string

	feed            Subscriber
	snapshots       SnapshotLoader
	reads           ReadMarker
	snapshotTimeout time.Duration
	log             *zap.Logger

	mu        sync.Mutex
	store     *projection.Store
	tracker   *projection.Tracker
	selection *projection.Selection
	opened    bool
	closed    bool

	changed   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func New(userID string, deps Deps) *Session {
	log := logger.OrNop(deps.Log).With(zap.String("user_id", userID))
	id := uuid.NewString()
	log = log.With(zap.String("session_id", id))

	store := projection.NewStore(userID, deps.Lookup,
		projection.WithLookupTimeout(deps.LookupTimeout),
		projection.WithLogger(log),
	)
	timeout := deps.SnapshotTimeout
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	return &Session{
		ID:              id,
		UserID:          userID,
		feed:            deps.Feed,
		snapshots:       deps.Snapshots,
		reads:           deps.Reads,
		snapshotTimeout: timeout,
		log:             log,
		store:           store,
		tracker:         projection.NewTracker(),
		selection:       projection.NewSelection(store),
		changed:         make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
}

// Open subscribes to the user's change feed, loads the initial snapshot and
// starts the reducer. The session runs until Close is called, ctx is done or
// the feed ends.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.opened = true
	s.mu.Unlock()

	// Subscribe first so rows committed during the snapshot load are not lost.
	events, err := s.feed.Subscribe(ctx, s.UserID)
	if err != nil {
		s.abort()
		return fmt.Errorf("session: subscribe: %w", err)
	}

	snapshot, err := s.loadSnapshot(ctx)
	if err != nil {
		_ = s.feed.Release()
		s.abort()
		return err
	}

	s.mu.Lock()
	s.store.Reset(snapshot)
	s.tracker.Reset(s.store.Summaries())
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = s.feed.Release()
		return ErrClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	go s.run(runCtx, events)

	s.notify()
	s.log.Info("conversation_session_opened", zap.Int("conversations", len(snapshot)))
	return nil
}

// Close releases the subscription, stops the reducer and discards lookups
// still in flight. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if err := s.feed.Release(); err != nil {
			s.log.Warn("conversation_feed_release_failed", zap.Error(err))
		}
		if cancel != nil {
			<-s.done
			metrics.ActiveSessions.Dec()
		}
		s.store.Close()
		s.log.Info("conversation_session_closed")
	})
}

// Done is closed when the reducer stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Changed signals that the view may have changed. Signals coalesce; read View
// after receiving one.
func (s *Session) Changed() <-chan struct{} { return s.changed }

// View returns a copy of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Conversations: s.store.Summaries(),
		Unread:        s.tracker.IDs(),
		Selection:     s.selection.State(),
	}
	if cur, ok := s.selection.Current(); ok {
		v.Current = &cur
	}
	return v
}

// SelectConversation opens conversation id. Selecting an unread conversation
// schedules marking it read; a scheduling failure is logged and does not
// undo the selection.
func (s *Session) SelectConversation(ctx context.Context, id int64) (conversation.Summary, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return conversation.Summary{}, ErrClosed
	}
	summary, err := s.selection.SelectConversation(id)
	s.mu.Unlock()
	if err != nil {
		return conversation.Summary{}, err
	}
	s.notify()

	if summary.HasUnreadMessages && s.reads != nil {
		if err := s.reads.MarkRead(ctx, s.UserID, id); err != nil {
			s.log.Warn("conversation_mark_read_failed", zap.Int64("conversation_id", id), zap.Error(err))
		}
	}
	return summary, nil
}

// ShowList shows the conversation list.
func (s *Session) ShowList() {
	s.mu.Lock()
	s.selection.ShowList()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) run(ctx context.Context, events <-chan conversation.Event) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.log.Info("conversation_feed_ended")
				return
			}
			if ev.Kind == conversation.EventResynced {
				s.resync(ctx)
				continue
			}
			s.mu.Lock()
			changes := s.store.Apply(ctx, ev)
			s.fold(changes)
			s.mu.Unlock()
			if len(changes) > 0 {
				s.notify()
			}
		case res := <-s.store.Enrichments():
			s.mu.Lock()
			changes := s.store.Materialize(ctx, res)
			s.fold(changes)
			s.mu.Unlock()
			if len(changes) > 0 {
				s.notify()
			}
		}
	}
}

// fold must be called with s.mu held.
func (s *Session) fold(changes []projection.Change) {
	for _, c := range changes {
		s.tracker.Apply(c)
		s.selection.Apply(c)
	}
}

// resync replaces the state with a fresh snapshot after the feed reconnected,
// since events may have been lost while it was down.
func (s *Session) resync(ctx context.Context) {
	snapshot, err := s.loadSnapshot(ctx)
	if err != nil {
		s.log.Warn("conversation_resync_failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.store.Reset(snapshot)
	s.tracker.Reset(s.store.Summaries())
	s.selection.Rebind()
	s.mu.Unlock()
	s.notify()
	s.log.Info("conversation_session_resynced", zap.Int("conversations", len(snapshot)))
}

func (s *Session) loadSnapshot(ctx context.Context) ([]conversation.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.snapshotTimeout)
	defer cancel()
	snapshot, err := s.snapshots.ListUserConversations(ctx, s.UserID)
	if err != nil {
		return nil, fmt.Errorf("session: load snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *Session) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) abort() {
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
}
