package liststore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/tagline/internal/domain"
)

const user = "user-1"

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := DialRedis(mr.Addr(), "", "test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func doc(sourceID int, kind domain.MediaKind, addedAt time.Time) domain.ListDocument {
	return domain.ListDocument{
		SourceID: sourceID,
		Kind:     kind,
		AddedAt:  addedAt,
		Body:     json.RawMessage(`{"title":"x"}`),
	}
}

// waitFor reads snapshots until match accepts one or the timeout passes
func waitFor(t *testing.T, sub domain.ListSubscription, match func([]domain.ListDocument) bool) []domain.ListDocument {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case docs, ok := <-sub.Updates():
			require.True(t, ok, "subscription closed early")
			if match(docs) {
				return docs
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
			return nil
		}
	}
}

func hasLen(n int) func([]domain.ListDocument) bool {
	return func(docs []domain.ListDocument) bool { return len(docs) == n }
}

// stores runs fn against both implementations
func stores(t *testing.T, fn func(t *testing.T, s domain.ListStore)) {
	t.Run("redis", func(t *testing.T) {
		r, _ := newRedisStore(t)
		fn(t, r)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
}

func TestCRUDAndOrdering(t *testing.T) {
	stores(t, func(t *testing.T, s domain.ListStore) {
		ctx := context.Background()
		base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

		oldID, err := s.Add(ctx, user, doc(1, domain.MediaKindMovie, base))
		require.NoError(t, err)
		newID, err := s.Add(ctx, user, doc(2, domain.MediaKindTV, base.Add(time.Hour)))
		require.NoError(t, err)
		assert.NotEqual(t, oldID, newID)

		all, err := s.Query(ctx, user, domain.ListQuery{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, newID, all[0].ID, "newest first")
		assert.Equal(t, oldID, all[1].ID)

		tv := domain.MediaKindTV
		onlyTV, err := s.Query(ctx, user, domain.ListQuery{Kind: &tv})
		require.NoError(t, err)
		require.Len(t, onlyTV, 1)
		assert.Equal(t, 2, onlyTV[0].SourceID)

		got, err := s.Get(ctx, user, oldID)
		require.NoError(t, err)
		got.Body = json.RawMessage(`{"title":"y"}`)
		require.NoError(t, s.Update(ctx, user, *got))

		got, err = s.Get(ctx, user, oldID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"title":"y"}`, string(got.Body))

		require.NoError(t, s.Delete(ctx, user, oldID))
		require.NoError(t, s.Delete(ctx, user, oldID), "deleting twice is fine")
		_, err = s.Get(ctx, user, oldID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = s.Update(ctx, user, domain.ListDocument{ID: "missing"})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		other, err := s.Query(ctx, "someone-else", domain.ListQuery{})
		require.NoError(t, err)
		assert.Empty(t, other, "documents are scoped per user")
	})
}

func TestSubscriptionPushesSnapshots(t *testing.T) {
	stores(t, func(t *testing.T, s domain.ListStore) {
		ctx := context.Background()
		now := time.Now()

		_, err := s.Add(ctx, user, doc(1, domain.MediaKindMovie, now))
		require.NoError(t, err)

		movie := domain.MediaKindMovie
		sub, err := s.Subscribe(ctx, user, domain.ListQuery{Kind: &movie})
		require.NoError(t, err)
		defer sub.Close()

		waitFor(t, sub, hasLen(1))

		_, err = s.Add(ctx, user, doc(2, domain.MediaKindTV, now.Add(time.Second)))
		require.NoError(t, err)
		id, err := s.Add(ctx, user, doc(3, domain.MediaKindMovie, now.Add(2*time.Second)))
		require.NoError(t, err)

		docs := waitFor(t, sub, hasLen(2))
		assert.Equal(t, id, docs[0].ID)

		require.NoError(t, s.Delete(ctx, user, id))
		waitFor(t, sub, hasLen(1))
	})
}

func TestCloseStopsUpdates(t *testing.T) {
	stores(t, func(t *testing.T, s domain.ListStore) {
		ctx := context.Background()

		sub, err := s.Subscribe(ctx, user, domain.ListQuery{})
		require.NoError(t, err)
		waitFor(t, sub, hasLen(0))

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close(), "close is idempotent")

		_, err = s.Add(ctx, user, doc(1, domain.MediaKindMovie, time.Now()))
		require.NoError(t, err)

		_, ok := <-sub.Updates()
		assert.False(t, ok, "updates channel is closed")
		assert.NoError(t, sub.Err())
	})
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := m.Subscribe(ctx, user, domain.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Subscribers(user))

	cancel()
	assert.Eventually(t, func() bool { return m.Subscribers(user) == 0 }, time.Second, 10*time.Millisecond)
	for range sub.Updates() {
	}
}

func TestSlowConsumerSeesLatestSnapshot(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sub, err := m.Subscribe(ctx, user, domain.ListQuery{})
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		_, err := m.Add(ctx, user, doc(i, domain.MediaKindMovie, time.Now()))
		require.NoError(t, err)
	}

	docs := <-sub.Updates()
	assert.Len(t, docs, 5, "intermediate snapshots are replaced")
}

func TestMemoryOffline(t *testing.T) {
	m := NewMemory()
	m.SetOffline(true)

	_, err := m.Add(context.Background(), user, doc(1, domain.MediaKindMovie, time.Now()))
	assert.ErrorIs(t, err, domain.ErrNetwork)
	_, err = m.Subscribe(context.Background(), user, domain.ListQuery{})
	assert.True(t, domain.IsRetryable(err))

	m.SetOffline(false)
	_, err = m.Add(context.Background(), user, doc(1, domain.MediaKindMovie, time.Now()))
	assert.NoError(t, err)
}

func TestRedisAddIfAbsent(t *testing.T) {
	r, _ := newRedisStore(t)
	ctx := context.Background()

	id, err := r.AddIfAbsent(ctx, user, doc(42, domain.MediaKindMovie, time.Now()))
	require.NoError(t, err)

	_, err = r.AddIfAbsent(ctx, user, doc(42, domain.MediaKindMovie, time.Now()))
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = r.AddIfAbsent(ctx, user, doc(42, domain.MediaKindTV, time.Now()))
	assert.NoError(t, err, "kind is part of the key")

	require.NoError(t, r.Delete(ctx, user, id))
	_, err = r.AddIfAbsent(ctx, user, doc(42, domain.MediaKindMovie, time.Now()))
	assert.NoError(t, err, "delete frees the slot")
}

func TestRedisDeleteHandsSlotToDuplicate(t *testing.T) {
	r, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	first, err := r.Add(ctx, user, doc(7, domain.MediaKindTV, now))
	require.NoError(t, err)
	second, err := r.Add(ctx, user, doc(7, domain.MediaKindTV, now.Add(time.Minute)))
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, user, second))
	_, err = r.AddIfAbsent(ctx, user, doc(7, domain.MediaKindTV, now))
	assert.ErrorIs(t, err, domain.ErrConflict, "surviving duplicate still holds the slot")

	require.NoError(t, r.Delete(ctx, user, first))
	_, err = r.AddIfAbsent(ctx, user, doc(7, domain.MediaKindTV, now))
	assert.NoError(t, err)
}

func TestRedisUndecodableDocumentPassesThrough(t *testing.T) {
	r, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := r.Add(ctx, user, doc(1, domain.MediaKindMovie, time.Now()))
	require.NoError(t, err)
	mr.HSet(r.docsKey(user), "broken", "{not json")

	docs, err := r.Query(ctx, user, domain.ListQuery{})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	var broken *domain.ListDocument
	for i := range docs {
		if docs[i].ID == "broken" {
			broken = &docs[i]
		}
	}
	require.NotNil(t, broken)
	assert.Empty(t, broken.Body)

	_, err = r.Get(ctx, user, "broken")
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
	require.NoError(t, r.Delete(ctx, user, "broken"))
}

func TestRedisUnreachableIsRetryable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	r := NewRedis(client, "", nil)
	defer r.Close()

	_, err := r.Query(context.Background(), user, domain.ListQuery{})
	require.NoError(t, err)

	mr.Close()
	_, err = r.Query(context.Background(), user, domain.ListQuery{})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestDialRedisRequiresAddress(t *testing.T) {
	_, err := DialRedis("", "", "", nil)
	assert.Error(t, err)
}
