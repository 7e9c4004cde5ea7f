package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cacheport "github.com/Angelica137/kindly/internal/infrastructure/cache/port"
	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

var _ cacheport.Cache = (*memoryCache)(nil)

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", cacheport.ErrMiss
	}
	return v, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memoryCache) Ping(context.Context) error { return nil }
func (m *memoryCache) Close() error { return nil }

type mockDisplaySource struct {
	mock.Mock
}

func (m *mockDisplaySource) FindItemDisplay(ctx context.Context, itemID string) (conversation.ItemDisplay, error) {
	args := m.Called(ctx, itemID)
	return args.Get(0).(conversation.ItemDisplay), args.Error(1)
}

func TestCachedItemLookup_MissThenHit(t *testing.T) {
	src := &mockDisplaySource{}
	src.On("FindItemDisplay", mock.Anything, "i1").
		Return(conversation.ItemDisplay{Name: "Sofa", ImageRef: "sofa.png"}, nil).Once()
	cache := newMemoryCache()
	l := NewCachedItemLookup(src, cache, time.Minute, nil)

	for i := 0; i < 3; i++ {
		d, err := l.FindItemDisplay(context.Background(), "i1")
		require.NoError(t, err)
		assert.Equal(t, "Sofa", d.Name)
		assert.Equal(t, "sofa.png", d.ImageRef)
	}

	src.AssertNumberOfCalls(t, "FindItemDisplay", 1)
	assert.Equal(t, time.Minute, cache.ttls["kindly:item_display:i1"])
	assert.JSONEq(t, `{"name":"Sofa","image_ref":"sofa.png"}`, cache.values["kindly:item_display:i1"])
}

func TestCachedItemLookup_SourceErrorNotCached(t *testing.T) {
	src := &mockDisplaySource{}
	src.On("FindItemDisplay", mock.Anything, "gone").
		Return(conversation.ItemDisplay{}, conversation.ErrItemNotFound).Twice()
	cache := newMemoryCache()
	l := NewCachedItemLookup(src, cache, time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := l.FindItemDisplay(context.Background(), "gone")
		assert.ErrorIs(t, err, conversation.ErrItemNotFound)
	}
	assert.Empty(t, cache.values)
	src.AssertExpectations(t)
}

func TestCachedItemLookup_CacheFailuresFallThrough(t *testing.T) {
	src := &mockDisplaySource{}
	src.On("FindItemDisplay", mock.Anything, "i2").
		Return(conversation.ItemDisplay{Name: "Kettle"}, nil)
	cache := newMemoryCache()
	cache.getErr = errors.New("redis: connection refused")
	cache.setErr = errors.New("redis: connection refused")
	l := NewCachedItemLookup(src, cache, time.Minute, nil)

	d, err := l.FindItemDisplay(context.Background(), "i2")
	require.NoError(t, err)
	assert.Equal(t, "Kettle", d.Name)
}

func TestCachedItemLookup_CorruptEntryIsRefreshed(t *testing.T) {
	src := &mockDisplaySource{}
	src.On("FindItemDisplay", mock.Anything, "i3").
		Return(conversation.ItemDisplay{Name: "Lamp"}, nil).Once()
	cache := newMemoryCache()
	cache.values["kindly:item_display:i3"] = "{not json"
	l := NewCachedItemLookup(src, cache, time.Minute, nil)

	d, err := l.FindItemDisplay(context.Background(), "i3")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", d.Name)
	assert.JSONEq(t, `{"name":"Lamp","image_ref":""}`, cache.values["kindly:item_display:i3"])
}

func TestPgRepositories_NilPool(t *testing.T) {
	ctx := context.Background()

	_, err := NewPgItemRepository(nil).FindItem(ctx, "i1")
	assert.ErrorIs(t, err, errNilPool)
	assert.ErrorIs(t, NewPgItemRepository(nil).ReserveItem(ctx, "i1", "u1"), errNilPool)

	_, err = NewPgConversationRepository(nil).ListUserConversations(ctx, "u1")
	assert.ErrorIs(t, err, errNilPool)
	assert.ErrorIs(t, NewPgConversationRepository(nil).MarkRead(ctx, "u1", 1), errNilPool)
}
