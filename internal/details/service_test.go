package details

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/tagline/internal/domain"
	"github.com/mmcdole/tagline/internal/store"
)

type fakeClient struct {
	calls   atomic.Int32
	err     error
	release chan struct{} // when set, FetchDetails blocks until closed
	detail  func(id int, kind domain.MediaKind) *domain.Detail
}

func (f *fakeClient) FetchDetails(ctx context.Context, id int, kind domain.MediaKind) (*domain.Detail, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.detail(id, kind), nil
}

func (f *fakeClient) SearchByText(ctx context.Context, text string, page int) (*domain.SearchPage, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) FetchGenres(ctx context.Context, kind domain.MediaKind) ([]domain.Genre, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) FetchWatchProviders(ctx context.Context, id int, kind domain.MediaKind, country string) (*domain.WatchProviders, error) {
	return &domain.WatchProviders{Country: country}, nil
}

func dune(id int, kind domain.MediaKind) *domain.Detail {
	runtime := 155
	return &domain.Detail{
		SourceID:       id,
		Kind:           kind,
		Title:          "Dune",
		VoteAverage:    7.849,
		VoteCount:      12000,
		RuntimeMinutes: &runtime,
		Genres:         []domain.Genre{{ID: 878, Name: "Science Fiction"}, {ID: 12, Name: "Adventure"}},
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, client *fakeClient) (*Service, *store.Store, *clock) {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := &clock{t: time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)}
	svc := NewService(st, client, DefaultTTL, nil)
	svc.now = c.Now
	return svc, st, c
}

func TestFreshEntryServedWithoutNetwork(t *testing.T) {
	client := &fakeClient{detail: dune}
	svc, _, clk := newTestService(t, client)
	ctx := context.Background()

	first, err := svc.GetDetails(ctx, 438631, domain.MediaKindMovie)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceNetwork, first.Source)

	clk.Advance(23 * time.Hour)
	second, err := svc.GetDetails(ctx, 438631, domain.MediaKindMovie)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCache, second.Source)
	assert.Equal(t, int32(1), client.calls.Load())

	assert.Equal(t, first.Title, second.Title)
	assert.Equal(t, 7.849, second.VoteAverage, "no rounding at the cache boundary")
	assert.Equal(t, first.Genres, second.Genres)
}

func TestStaleFallbackWithinTTLWhenRemoteFails(t *testing.T) {
	client := &fakeClient{detail: dune}
	svc, _, _ := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.GetDetails(ctx, 1, domain.MediaKindTV)
	require.NoError(t, err)

	client.err = domain.ErrNetwork
	got, err := svc.GetDetails(ctx, 1, domain.MediaKindTV)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Title)
	assert.Equal(t, int32(1), client.calls.Load(), "fresh entry does not hit the network")
}

func TestExpiredEntryFallsBackOnFailure(t *testing.T) {
	client := &fakeClient{detail: dune}
	svc, _, clk := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.GetDetails(ctx, 1, domain.MediaKindMovie)
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)
	for _, failure := range []error{domain.ErrNetwork, domain.ErrMalformedResponse, context.DeadlineExceeded} {
		client.err = failure
		got, err := svc.GetDetails(ctx, 1, domain.MediaKindMovie)
		require.NoError(t, err)
		assert.Equal(t, domain.SourceStale, got.Source)
		assert.Equal(t, "Dune", got.Title)
	}
	assert.Equal(t, int32(4), client.calls.Load(), "expired entries always try the network")
}

func TestExpiredEntryRefreshedOnSuccess(t *testing.T) {
	client := &fakeClient{detail: dune}
	svc, st, clk := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.GetDetails(ctx, 9, domain.MediaKindMovie)
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)
	client.detail = func(id int, kind domain.MediaKind) *domain.Detail {
		d := dune(id, kind)
		d.Title = "Dune: Part One"
		return d
	}
	got, err := svc.GetDetails(ctx, 9, domain.MediaKindMovie)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceNetwork, got.Source)

	cached, ok := st.GetDetail(9, domain.MediaKindMovie)
	require.True(t, ok)
	assert.Equal(t, "Dune: Part One", cached.Title)
	assert.Equal(t, clk.Now().UnixMilli(), cached.CachedAt)
}

func TestFailureWithoutCacheEntryPropagates(t *testing.T) {
	tests := []struct {
		err  error
		kind domain.ErrorKind
	}{
		{domain.ErrNetwork, domain.KindTransientNetwork},
		{domain.ErrNotFound, domain.KindNotFound},
		{domain.ErrMalformedResponse, domain.KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			client := &fakeClient{detail: dune, err: tt.err}
			svc, st, _ := newTestService(t, client)

			got, err := svc.GetDetails(context.Background(), 5, domain.MediaKindMovie)
			assert.Nil(t, got)
			assert.Equal(t, tt.kind, domain.KindOf(err))

			n, err := st.CountDetails()
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	client := &fakeClient{detail: dune, release: make(chan struct{})}
	svc, _, _ := newTestService(t, client)

	var wg sync.WaitGroup
	results := make([]*domain.Detail, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := svc.GetDetails(context.Background(), 3, domain.MediaKindMovie)
			assert.NoError(t, err)
			results[i] = d
		}(i)
	}

	require.Eventually(t, func() bool { return client.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(client.release)
	wg.Wait()

	assert.LessOrEqual(t, client.calls.Load(), int32(5))
	for _, d := range results {
		require.NotNil(t, d)
		assert.Equal(t, "Dune", d.Title)
	}
}

func TestCancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	client := &fakeClient{detail: dune, release: make(chan struct{})}
	svc, st, _ := newTestService(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GetDetails(ctx, 7, domain.MediaKindTV)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan *domain.Detail, 1)
	go func() {
		d, err := svc.GetDetails(context.Background(), 7, domain.MediaKindTV)
		assert.NoError(t, err)
		second <- d
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(client.release)
	select {
	case d := <-second:
		require.NotNil(t, d)
		assert.Equal(t, domain.SourceNetwork, d.Source)
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}

	_, cached := st.GetDetail(7, domain.MediaKindTV)
	assert.True(t, cached, "fetch finished and persisted after the first caller left")
}

// readOnlyStore rejects detail writes
type readOnlyStore struct {
	domain.LocalStore
}

func (readOnlyStore) PutDetail(*domain.CachedDetail) error {
	return errors.New("disk full")
}

func TestPersistFailureStillReturnsFetchedValue(t *testing.T) {
	client := &fakeClient{detail: dune}
	_, st, clk := newTestService(t, client)
	svc := NewService(readOnlyStore{st}, client, DefaultTTL, nil)
	svc.now = clk.Now
	ctx := context.Background()

	d, err := svc.GetDetails(ctx, 438631, domain.MediaKindMovie)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceNetwork, d.Source)
	assert.Equal(t, "Dune", d.Title)

	_, cached := st.GetDetail(438631, domain.MediaKindMovie)
	assert.False(t, cached)

	again, err := svc.GetDetails(ctx, 438631, domain.MediaKindMovie)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceNetwork, again.Source)
	assert.Equal(t, int32(2), client.calls.Load(), "nothing was cached so the second call refetches")
}

func TestSweepExpired(t *testing.T) {
	client := &fakeClient{detail: dune}
	svc, st, clk := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.GetDetails(ctx, 1, domain.MediaKindMovie)
	require.NoError(t, err)
	clk.Advance(20 * time.Hour)
	_, err = svc.GetDetails(ctx, 2, domain.MediaKindMovie)
	require.NoError(t, err)

	clk.Advance(5 * time.Hour)
	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := st.GetDetail(1, domain.MediaKindMovie)
	assert.False(t, ok)
	_, ok = st.GetDetail(2, domain.MediaKindMovie)
	assert.True(t, ok)
}

func TestInvalidateAndClear(t *testing.T) {
	client := &fakeClient{detail: dune}
	svc, st, _ := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.GetDetails(ctx, 1, domain.MediaKindMovie)
	require.NoError(t, err)
	_, err = svc.GetDetails(ctx, 2, domain.MediaKindTV)
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(1, domain.MediaKindMovie))
	_, err = svc.GetDetails(ctx, 1, domain.MediaKindMovie)
	require.NoError(t, err)
	assert.Equal(t, int32(3), client.calls.Load(), "invalidated entry is refetched")

	require.NoError(t, svc.ClearAll())
	n, err := st.CountDetails()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWatchProvidersDefaultsCountry(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeClient{detail: dune})

	wp, err := svc.WatchProviders(context.Background(), 1, domain.MediaKindMovie, "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultCountry, wp.Country)
}

func TestInvalidKindRejected(t *testing.T) {
	client := &fakeClient{detail: dune}
	svc, _, _ := newTestService(t, client)

	_, err := svc.GetDetails(context.Background(), 1, domain.MediaKind(7))
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	assert.Zero(t, client.calls.Load())
}
