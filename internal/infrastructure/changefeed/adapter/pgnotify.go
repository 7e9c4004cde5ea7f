package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Angelica137/kindly/internal/infrastructure/changefeed/port"
	"github.com/Angelica137/kindly/internal/infrastructure/logger"
	"github.com/Angelica137/kindly/internal/infrastructure/metrics"
)

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
	streamBuffer      = 64
	// maxQueued bounds the messages held for a slow stream. Beyond it the
	// backlog collapses into a single RESYNC.
	maxQueued = 1024
)

// ErrTransportClosed is returned by Subscribe once Run has returned.
var ErrTransportClosed = errors.New("changefeed: transport closed")

// listenConn is the part of a dedicated Postgres connection the listener uses.
type listenConn interface {
	Exec(ctx context.Context, sql string) error
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type dialFunc func(ctx context.Context) (listenConn, error)

// PgNotifyTransport implements port.Transport over Postgres LISTEN/NOTIFY.
//
// Rows are published by a table trigger, for example:
//
//	PERFORM pg_notify(TG_TABLE_NAME || ':' || COALESCE(NEW.user_id, OLD.user_id),
//	    json_build_object('type', TG_OP, 'table', TG_TABLE_NAME,
//	                      'old', to_jsonb(OLD), 'new', to_jsonb(NEW))::text);
//
// The channel therefore embeds the filter value, which makes the row filter
// server-side: a listener only ever receives its own user's rows.
//
// All subscriptions share one connection opened outside the query pool. Run
// owns it: it issues LISTEN/UNLISTEN as streams come and go, routes each
// notification by channel, and reconnects with backoff when it is lost.
type PgNotifyTransport struct {
	dial       dialFunc
	log        *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	channels map[string]map[*pgStream]struct{}
	pending  []command
	stopped  bool

	wake chan struct{}
	done chan struct{}
}

type command struct {
	channel string
	listen  bool
	reply   chan error
}

// NewPgNotifyTransport constructs a transport that dials its listener
// connection with the settings of pool, without taking a pool connection.
func NewPgNotifyTransport(pool *pgxpool.Pool, log *zap.Logger) *PgNotifyTransport {
	return newTransport(func(ctx context.Context) (listenConn, error) {
		return dialListener(ctx, pool)
	}, log)
}

func newTransport(dial dialFunc, log *zap.Logger) *PgNotifyTransport {
	return &PgNotifyTransport{
		dial:       dial,
		log:        logger.OrNop(log),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		channels:   make(map[string]map[*pgStream]struct{}),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Ensure interface compliance at compile time
var _ port.Transport = (*PgNotifyTransport)(nil)

// ChannelName returns the NOTIFY channel carrying rows of table whose filter column equals value.
func ChannelName(table, value string) string {
	return table + ":" + value
}

// Subscribe registers a stream and, for the first stream of a channel, waits
// until Run has issued the LISTEN. The stream ends on Close or when ctx is done.
func (t *PgNotifyTransport) Subscribe(ctx context.Context, sub port.Subscription) (port.Stream, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	channel := ChannelName(sub.Table, sub.Filter.Value)
	s := newStream(t, sub, channel)
	go s.forward()

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		_ = s.Close()
		return nil, ErrTransportClosed
	}
	set, ok := t.channels[channel]
	if !ok {
		set = make(map[*pgStream]struct{})
		t.channels[channel] = set
	}
	set[s] = struct{}{}
	var reply chan error
	if !ok {
		reply = make(chan error, 1)
		t.pending = append(t.pending, command{channel: channel, listen: true, reply: reply})
	}
	t.mu.Unlock()

	if reply != nil {
		t.signal()
		var err error
		select {
		case err = <-reply:
		case <-ctx.Done():
			err = ctx.Err()
		case <-t.done:
			err = ErrTransportClosed
		}
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("changefeed: listen %q: %w", channel, err)
		}
	}

	s.watch(ctx)
	return s, nil
}

// Run holds the listener connection until ctx is done, then ends every stream.
// It fails only when the first connection cannot be established.
func (t *PgNotifyTransport) Run(ctx context.Context) error {
	defer t.shutdown()

	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("changefeed: connect listener: %w", err)
	}
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		err := t.flush(ctx, conn)
		if err == nil {
			var n *pgconn.Notification
			n, err = t.wait(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, errWoken) {
				continue
			}
			if err == nil {
				t.dispatch(n)
				continue
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		t.log.Warn("changefeed_connection_lost", zap.Error(err))
		_ = conn.Close(context.Background())
		conn = t.reconnect(ctx)
		if conn == nil {
			return nil
		}
		metrics.FeedReconnects.Inc()
		t.broadcastResync()
	}
}

var errWoken = errors.New("changefeed: listener woken")

// wait blocks for one notification. A signal interrupts it with errWoken so
// that pending LISTEN/UNLISTEN commands run promptly.
func (t *PgNotifyTransport) wait(ctx context.Context, conn listenConn) (*pgconn.Notification, error) {
	wctx, cancel := context.WithCancel(ctx)
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-t.wake:
			cancel()
		case <-wctx.Done():
		}
	}()

	n, err := conn.WaitForNotification(wctx)
	// The watcher must be gone before the next flush, or it could swallow a
	// wake meant for the next wait.
	cancel()
	<-watched
	if err != nil && ctx.Err() == nil && wctx.Err() != nil {
		return nil, errWoken
	}
	return n, err
}

// flush runs queued commands in order. An error means the connection is no
// longer usable; commands not yet run are covered by the re-LISTEN after
// reconnecting.
func (t *PgNotifyTransport) flush(ctx context.Context, conn listenConn) error {
	t.mu.Lock()
	cmds := t.pending
	t.pending = nil
	t.mu.Unlock()

	for i, cmd := range cmds {
		stmt := "UNLISTEN "
		if cmd.listen {
			stmt = "LISTEN "
		}
		if err := conn.Exec(ctx, stmt+pgx.Identifier{cmd.channel}.Sanitize()); err != nil {
			acknowledge(cmds[i:])
			return fmt.Errorf("%s%q: %w", stmt, cmd.channel, err)
		}
		if cmd.reply != nil {
			cmd.reply <- nil
		}
	}
	return nil
}

// acknowledge releases subscribers waiting on cmds. Their channels are
// listened again by the reconnect, which is followed by a RESYNC.
func acknowledge(cmds []command) {
	for _, cmd := range cmds {
		if cmd.reply != nil {
			cmd.reply <- nil
		}
	}
}

// reconnect dials with exponential backoff until it succeeds or ctx is done,
// then listens on every channel that still has streams.
func (t *PgNotifyTransport) reconnect(ctx context.Context) listenConn {
	delay := t.minBackoff
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
	sleep:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-t.wake:
				t.mu.Lock()
				cmds := t.pending
				t.pending = nil
				t.mu.Unlock()
				acknowledge(cmds)
			case <-timer.C:
				break sleep
			}
		}

		conn, err := t.dial(ctx)
		if err == nil {
			err = t.relisten(ctx, conn)
			if err == nil {
				t.log.Info("changefeed_reconnected", zap.Int("attempt", attempt))
				return conn
			}
			_ = conn.Close(context.Background())
		}
		t.log.Warn("changefeed_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
		delay = NextBackoff(delay, t.maxBackoff)
	}
}

func (t *PgNotifyTransport) relisten(ctx context.Context, conn listenConn) error {
	t.mu.Lock()
	cmds := t.pending
	t.pending = nil
	channels := make([]string, 0, len(t.channels))
	for ch := range t.channels {
		channels = append(channels, ch)
	}
	t.mu.Unlock()
	acknowledge(cmds)

	for _, ch := range channels {
		if err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("LISTEN %q: %w", ch, err)
		}
	}
	return nil
}

func (t *PgNotifyTransport) dispatch(n *pgconn.Notification) {
	msg, err := DecodeNotification([]byte(n.Payload))
	if err != nil {
		t.log.Warn("changefeed_decode_failed", zap.String("channel", n.Channel), zap.Error(err))
		return
	}
	for _, s := range t.streams(n.Channel) {
		if msg.Table != "" && msg.Table != s.sub.Table {
			continue
		}
		if !s.sub.Wants(msg.Kind) {
			continue
		}
		s.push(msg)
	}
}

func (t *PgNotifyTransport) broadcastResync() {
	for _, s := range t.streams("") {
		s.push(port.Message{Kind: port.KindResync, Table: s.sub.Table})
	}
}

// streams returns the streams of channel, or of every channel when it is empty.
func (t *PgNotifyTransport) streams(channel string) []*pgStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*pgStream
	for ch, set := range t.channels {
		if channel != "" && ch != channel {
			continue
		}
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

// remove drops s and queues an UNLISTEN once its channel has no streams left.
func (t *PgNotifyTransport) remove(s *pgStream) {
	t.mu.Lock()
	set, ok := t.channels[s.channel]
	if !ok {
		t.mu.Unlock()
		return
	}
	if _, ok := set[s]; !ok {
		t.mu.Unlock()
		return
	}
	delete(set, s)
	last := len(set) == 0
	if last {
		delete(t.channels, s.channel)
		if !t.stopped {
			t.pending = append(t.pending, command{channel: s.channel})
		}
	}
	t.mu.Unlock()
	if last {
		t.signal()
	}
}

func (t *PgNotifyTransport) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *PgNotifyTransport) shutdown() {
	t.mu.Lock()
	t.stopped = true
	t.pending = nil
	t.mu.Unlock()
	close(t.done)

	for _, s := range t.streams("") {
		_ = s.Close()
	}
}

type pgStream struct {
	transport *PgNotifyTransport
	sub       port.Subscription
	channel   string
	out       chan port.Message

	mu     sync.Mutex
	queue  []port.Message
	stop   func() bool
	signal chan struct{}

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func newStream(t *PgNotifyTransport, sub port.Subscription, channel string) *pgStream {
	return &pgStream{
		transport: t,
		sub:       sub,
		channel:   channel,
		out:       make(chan port.Message, streamBuffer),
		signal:    make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *pgStream) Messages() <-chan port.Message { return s.out }

// Close unregisters the stream and waits until its channel is closed.
func (s *pgStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.transport.remove(s)
		close(s.quit)
		<-s.done
	})
	return nil
}

func (s *pgStream) watch(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

// push queues msg without blocking the listener loop.
func (s *pgStream) push(msg port.Message) {
	s.mu.Lock()
	if len(s.queue) >= maxQueued {
		s.transport.log.Warn("changefeed_stream_lagging", zap.String("channel", s.channel))
		s.queue = append(s.queue[:0], port.Message{Kind: port.KindResync, Table: s.sub.Table})
	} else {
		s.queue = append(s.queue, msg)
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *pgStream) forward() {
	defer close(s.done)
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.quit:
				return
			}
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- msg:
		case <-s.quit:
			return
		}
	}
}

// pgxListener adapts a dedicated *pgx.Conn to listenConn.
type pgxListener struct {
	conn *pgx.Conn
}

func (l pgxListener) Exec(ctx context.Context, sql string) error {
	_, err := l.conn.Exec(ctx, sql)
	return err
}

func (l pgxListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return l.conn.WaitForNotification(ctx)
}

func (l pgxListener) Close(ctx context.Context) error { return l.conn.Close(ctx) }

// dialListener opens a connection with the pool's settings but outside it.
// Cancelling a wait only moves the socket deadline, so the connection stays
// usable and the server never receives a cancel request.
func dialListener(ctx context.Context, pool *pgxpool.Pool) (listenConn, error) {
	if pool == nil {
		return nil, errors.New("changefeed: nil pool")
	}
	cfg := pool.Config().ConnConfig.Copy()
	cfg.BuildContextWatcherHandler = func(pc *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.DeadlineContextWatcherHandler{Conn: pc.Conn()}
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pgxListener{conn: conn}, nil
}

// NextBackoff doubles d, capped at ceiling.
func NextBackoff(d, ceiling time.Duration) time.Duration {
	d *= 2
	if d > ceiling {
		return ceiling
	}
	return d
}

type notification struct {
	Type  string          `json:"type"`
	Table string          `json:"table"`
	Old   json.RawMessage `json:"old"`
	New   json.RawMessage `json:"new"`
}

// ErrUnknownKind is returned for payloads whose type is not INSERT, UPDATE or DELETE.
var ErrUnknownKind = errors.New("changefeed: unknown event type")

// DecodeNotification parses a trigger payload into a Message. JSON null rows decode to nil.
func DecodeNotification(payload []byte) (port.Message, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return port.Message{}, fmt.Errorf("changefeed: decode payload: %w", err)
	}
	kind := port.Kind(n.Type)
	switch kind {
	case port.KindInsert, port.KindUpdate, port.KindDelete:
	default:
		return port.Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, n.Type)
	}
	return port.Message{
		Kind:  kind,
		Table: n.Table,
		Old:   rawRow(n.Old),
		New:   rawRow(n.New),
	}, nil
}

func rawRow(r json.RawMessage) []byte {
	if len(r) == 0 || bytes.Equal(r, []byte("null")) {
		return nil
	}
	return []byte(r)
}
