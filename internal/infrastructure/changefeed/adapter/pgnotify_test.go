package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Angelica137/kindly/internal/infrastructure/changefeed/port"
)

func TestDecodeNotification(t *testing.T) {
	t.Run("update carries both rows", func(t *testing.T) {
		msg, err := DecodeNotification([]byte(`{"type":"UPDATE","table":"user_conversations","old":{"id":1},"new":{"id":1,"has_unread_messages":true}}`))
		require.NoError(t, err)
		assert.Equal(t, port.KindUpdate, msg.Kind)
		assert.Equal(t, "user_conversations", msg.Table)
		assert.JSONEq(t, `{"id":1}`, string(msg.Old))
		assert.JSONEq(t, `{"id":1,"has_unread_messages":true}`, string(msg.New))
	})

	t.Run("null rows become nil", func(t *testing.T) {
		msg, err := DecodeNotification([]byte(`{"type":"INSERT","table":"user_conversations","old":null,"new":{"id":2}}`))
		require.NoError(t, err)
		assert.Nil(t, msg.Old)
		assert.NotNil(t, msg.New)

		msg, err = DecodeNotification([]byte(`{"type":"DELETE","old":{"id":2}}`))
		require.NoError(t, err)
		assert.Equal(t, port.KindDelete, msg.Kind)
		assert.Nil(t, msg.New)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeNotification([]byte(`{"type":"TRUNCATE"}`))
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := DecodeNotification([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "user_conversations:u1", ChannelName("user_conversations", "u1"))
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, NextBackoff(250*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, NextBackoff(800*time.Millisecond, time.Second))
}

func TestSubscribe_RejectsUnscopedSubscription(t *testing.T) {
	tr := NewPgNotifyTransport(nil, nil)
	_, err := tr.Subscribe(context.Background(), port.Subscription{Table: "user_conversations"})
	assert.ErrorIs(t, err, port.ErrInvalidSubscription)
}

func TestSubscriptionWants(t *testing.T) {
	all := port.Subscription{}
	assert.True(t, all.Wants(port.KindDelete))

	updates := port.Subscription{Kinds: []port.Kind{port.KindUpdate}}
	assert.True(t, updates.Wants(port.KindUpdate))
	assert.False(t, updates.Wants(port.KindInsert))
	assert.True(t, updates.Wants(port.KindResync))
}

type fakeListenConn struct {
	mu     sync.Mutex
	stmts  []string
	closed bool
	notes  chan *pgconn.Notification
	lost   chan error
}

func newFakeListenConn() *fakeListenConn {
	return &fakeListenConn{notes: make(chan *pgconn.Notification, 16), lost: make(chan error, 1)}
}

func (c *fakeListenConn) Exec(_ context.Context, sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = append(c.stmts, sql)
	return nil
}

func (c *fakeListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n := <-c.notes:
		return n, nil
	case err := <-c.lost:
		return nil, err
	}
}

func (c *fakeListenConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeListenConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stmts...)
}

func (c *fakeListenConn) count(prefix string) int {
	n := 0
	for _, stmt := range c.statements() {
		if strings.HasPrefix(stmt, prefix) {
			n++
		}
	}
	return n
}

func (c *fakeListenConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeListenConn
	attempts int
	failures int
	err      error
}

func (d *fakeDialer) dial(context.Context) (listenConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.err != nil {
		return nil, d.err
	}
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	c := newFakeListenConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeListenConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *fakeDialer) stats() (attempts, conns int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts, len(d.conns)
}

// runTransport starts Run in the background. stop cancels it and returns its error.
func runTransport(t *testing.T, d *fakeDialer) (*PgNotifyTransport, func() error) {
	t.Helper()
	tr := newTransport(d.dial, nil)
	tr.minBackoff = time.Millisecond
	tr.maxBackoff = 4 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tr.Run(ctx) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			runErr = <-errc
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return tr, stop
}

func userSub(userID string) port.Subscription {
	return port.Subscription{Table: "user_conversations", Filter: port.Filter{Column: "user_id", Value: userID}}
}

func note(userID, payload string) *pgconn.Notification {
	return &pgconn.Notification{Channel: "user_conversations:" + userID, Payload: payload}
}

func recvMessage(t *testing.T, s port.Stream) port.Message {
	t.Helper()
	select {
	case msg, ok := <-s.Messages():
		require.True(t, ok, "stream closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return port.Message{}
	}
}

func requireClosed(t *testing.T, s port.Stream) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Messages():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream was not closed")
		}
	}
}

const insertPayload = `{"type":"INSERT","table":"user_conversations","old":null,"new":{"id":1,"conversation_id":1}}`

func TestTransport_SharesOneConnectionAcrossSubscriptions(t *testing.T) {
	d := &fakeDialer{}
	tr, _ := runTransport(t, d)
	ctx := context.Background()

	// Well beyond the default query pool size.
	const sessions = 20
	streams := make([]port.Stream, sessions)
	for i := range streams {
		s, err := tr.Subscribe(ctx, userSub(fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
		streams[i] = s
	}

	attempts, conns := d.stats()
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, conns)
	conn := d.conn(0)
	assert.Equal(t, sessions, conn.count("LISTEN "))
	assert.Contains(t, conn.statements(), `LISTEN "user_conversations:u7"`)

	conn.notes <- note("u7", insertPayload)
	msg := recvMessage(t, streams[7])
	assert.Equal(t, port.KindInsert, msg.Kind)
	assert.JSONEq(t, `{"id":1,"conversation_id":1}`, string(msg.New))
	assert.Empty(t, streams[3].Messages())

	for _, s := range streams {
		require.NoError(t, s.Close())
	}
	require.Eventually(t, func() bool { return conn.count("UNLISTEN ") == sessions }, 2*time.Second, 5*time.Millisecond)
}

func TestTransport_ReconnectsAndResyncs(t *testing.T) {
	d := &fakeDialer{}
	tr, _ := runTransport(t, d)

	s, err := tr.Subscribe(context.Background(), userSub("u1"))
	require.NoError(t, err)

	d.failNext(2)
	d.conn(0).lost <- errors.New("unexpected EOF")

	msg := recvMessage(t, s)
	assert.Equal(t, port.KindResync, msg.Kind)
	assert.Equal(t, "user_conversations", msg.Table)

	attempts, conns := d.stats()
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 2, conns)
	assert.True(t, d.conn(0).isClosed())
	assert.Equal(t, []string{`LISTEN "user_conversations:u1"`}, d.conn(1).statements())

	d.conn(1).notes <- note("u1", `{"type":"UPDATE","table":"user_conversations","old":{"id":1},"new":{"id":1,"has_unread_messages":true}}`)
	assert.Equal(t, port.KindUpdate, recvMessage(t, s).Kind)

	require.NoError(t, s.Close())
	require.Eventually(t, func() bool { return d.conn(1).count(`UNLISTEN "user_conversations:u1"`) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTransport_SharedChannelListensOnce(t *testing.T) {
	d := &fakeDialer{}
	tr, _ := runTransport(t, d)
	ctx := context.Background()

	a, err := tr.Subscribe(ctx, userSub("u1"))
	require.NoError(t, err)
	b, err := tr.Subscribe(ctx, userSub("u1"))
	require.NoError(t, err)

	conn := d.conn(0)
	conn.notes <- note("u1", insertPayload)
	assert.Equal(t, port.KindInsert, recvMessage(t, a).Kind)
	assert.Equal(t, port.KindInsert, recvMessage(t, b).Kind)

	require.NoError(t, a.Close())
	// Subscribing another user flushes every queued command first.
	_, err = tr.Subscribe(ctx, userSub("u2"))
	require.NoError(t, err)
	assert.Equal(t, []string{`LISTEN "user_conversations:u1"`, `LISTEN "user_conversations:u2"`}, conn.statements())

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return conn.count(`UNLISTEN "user_conversations:u1"`) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTransport_FiltersKinds(t *testing.T) {
	d := &fakeDialer{}
	tr, _ := runTransport(t, d)

	sub := userSub("u1")
	sub.Kinds = []port.Kind{port.KindDelete}
	s, err := tr.Subscribe(context.Background(), sub)
	require.NoError(t, err)

	conn := d.conn(0)
	conn.notes <- note("u1", insertPayload)
	conn.notes <- note("u1", `{"type":"DELETE","table":"user_conversations","old":{"id":1}}`)
	assert.Equal(t, port.KindDelete, recvMessage(t, s).Kind)
}

func TestTransport_StreamEndsWithSubscriberContext(t *testing.T) {
	d := &fakeDialer{}
	tr, _ := runTransport(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := tr.Subscribe(ctx, userSub("u1"))
	require.NoError(t, err)

	cancel()
	requireClosed(t, s)
	require.Eventually(t, func() bool { return d.conn(0).count("UNLISTEN ") == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTransport_StopEndsStreams(t *testing.T) {
	d := &fakeDialer{}
	tr, stop := runTransport(t, d)

	s, err := tr.Subscribe(context.Background(), userSub("u1"))
	require.NoError(t, err)

	require.NoError(t, stop())
	requireClosed(t, s)
	assert.True(t, d.conn(0).isClosed())

	_, err = tr.Subscribe(context.Background(), userSub("u2"))
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestTransport_RunFailsWithoutFirstConnection(t *testing.T) {
	tr := newTransport((&fakeDialer{err: errors.New("no route to host")}).dial, nil)
	assert.Error(t, tr.Run(context.Background()))

	_, err := tr.Subscribe(context.Background(), userSub("u1"))
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestStream_LaggingBacklogCollapsesToResync(t *testing.T) {
	tr := newTransport((&fakeDialer{}).dial, nil)
	s := newStream(tr, userSub("u1"), "user_conversations:u1")

	for i := 0; i < maxQueued; i++ {
		s.push(port.Message{Kind: port.KindUpdate})
	}
	require.Len(t, s.queue, maxQueued)

	s.push(port.Message{Kind: port.KindUpdate})
	require.Len(t, s.queue, 1)
	assert.Equal(t, port.KindResync, s.queue[0].Kind)
}
