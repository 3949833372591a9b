package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/tagline/internal/domain"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	block   map[string]chan struct{} // searches for these queries wait for close or cancel
	err     error
}

func (f *fakeSearcher) SearchByText(ctx context.Context, text string, page int) (*domain.SearchPage, error) {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	gate := f.block[text]
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &domain.SearchPage{
		Page:    page,
		Results: []domain.SearchResult{{SourceID: len(text), Title: text}},
	}, nil
}

func (f *fakeSearcher) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeRecorder) RecordQuery(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	return nil
}

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) OnResult(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// manualTimers records scheduled callbacks so tests decide when they fire
type manualTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
	delays []time.Duration
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &fakeTimer{f: f}
	m.timers = append(m.timers, t)
	m.delays = append(m.delays, d)
	return t
}

func (m *manualTimers) Pending() []*fakeTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*fakeTimer
	for _, t := range m.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// FireAll runs every callback that has not been stopped
func (m *manualTimers) FireAll() {
	for _, t := range m.Pending() {
		t.stopped = true
		t.f()
	}
}

type harness struct {
	ctrl     *Controller
	searcher *fakeSearcher
	history  *fakeRecorder
	results  *collector
	timers   *manualTimers
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		searcher: &fakeSearcher{block: map[string]chan struct{}{}},
		history:  &fakeRecorder{},
		results:  &collector{},
		timers:   &manualTimers{},
	}
	h.ctrl = NewController(h.searcher, h.history, h.results, Options{AfterFunc: h.timers.AfterFunc}, nil)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) waitResults(t *testing.T, n int) []Result {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.results.Results()) >= n }, time.Second, time.Millisecond)
	return h.results.Results()
}

func TestRapidTypingDispatchesOnce(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Type("b")
	assert.Empty(t, h.timers.Pending(), "below minimum length")
	h.ctrl.Type("ba")
	h.ctrl.Type("bat")

	require.Len(t, h.timers.Pending(), 1, "at most one pending timer")
	assert.Equal(t, StatePending, h.ctrl.State())
	assert.Equal(t, DefaultDebounce, h.timers.delays[len(h.timers.delays)-1])

	h.timers.FireAll()
	results := h.waitResults(t, 1)

	assert.Equal(t, []string{"bat"}, h.searcher.Queries())
	assert.Equal(t, []string{"bat"}, h.history.queries)
	require.Len(t, results, 1)
	assert.Equal(t, "bat", results[0].Query)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestDebounceWithRealTimer(t *testing.T) {
	searcher := &fakeSearcher{}
	results := &collector{}
	ctrl := NewController(searcher, nil, results, Options{}, nil)
	defer ctrl.Close()

	for _, text := range []string{"b", "ba", "bat"} {
		ctrl.Type(text)
		time.Sleep(100 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(results.Results()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"bat"}, searcher.Queries())
}

func TestClearingTextCancelsPendingSearch(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Type("dune")
	pending := h.timers.Pending()
	require.Len(t, pending, 1)

	h.ctrl.Type("")
	assert.True(t, pending[0].stopped)
	assert.Equal(t, StateIdle, h.ctrl.State())

	// A timer that fires after being stopped is ignored
	pending[0].f()

	results := h.results.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].Cleared)
	assert.Empty(t, h.searcher.Queries())
}

func TestSubmitBypassesDebounce(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Type("ali")
	require.NoError(t, h.ctrl.Submit("alien"))
	assert.Empty(t, h.timers.Pending(), "submit cancels the pending timer")

	results := h.waitResults(t, 1)
	assert.Equal(t, "alien", results[0].Query)
	assert.Equal(t, []string{"alien"}, h.searcher.Queries())
}

func TestSubmitRejectsShortQuery(t *testing.T) {
	h := newHarness(t)

	err := h.ctrl.Submit(" a ")
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	assert.Empty(t, h.searcher.Queries())
}

func TestSelectSearchesHistoryEntry(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.Select(domain.SearchHistoryEntry{ID: 3, Query: "heat"}))
	results := h.waitResults(t, 1)
	assert.Equal(t, "heat", results[0].Query)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.searcher.block["alien"] = gate

	require.NoError(t, h.ctrl.Submit("alien"))
	require.Eventually(t, func() bool { return len(h.searcher.Queries()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateInFlight, h.ctrl.State())

	require.NoError(t, h.ctrl.Submit("aliens"))
	results := h.waitResults(t, 1)
	close(gate)

	h.ctrl.Close()
	results = h.results.Results()
	require.Len(t, results, 1, "superseded response never reaches the observer")
	assert.Equal(t, "aliens", results[0].Query)
	assert.Greater(t, results[0].Generation, uint64(1))
}

func TestSupersededSearchIsCancelled(t *testing.T) {
	h := newHarness(t)
	h.searcher.block["heat"] = make(chan struct{}) // never released

	require.NoError(t, h.ctrl.Submit("heat"))
	require.Eventually(t, func() bool { return len(h.searcher.Queries()) == 1 }, time.Second, time.Millisecond)

	h.ctrl.Type("")
	// Close waits for the blocked search, which only returns through cancellation
	done := make(chan struct{})
	go func() {
		h.ctrl.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("in-flight search was not cancelled")
	}
}

func TestSearchErrorIsDelivered(t *testing.T) {
	h := newHarness(t)
	h.searcher.err = domain.ErrRateLimited

	require.NoError(t, h.ctrl.Submit("up"))
	results := h.waitResults(t, 1)
	assert.True(t, domain.IsRetryable(results[0].Err))
	assert.Nil(t, results[0].Page)
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestClosedControllerIgnoresInput(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Close()

	h.ctrl.Type("dune")
	assert.Empty(t, h.timers.Pending())
	assert.Error(t, h.ctrl.Submit("dune"))
}

func TestChannelObserverDoesNotBlock(t *testing.T) {
	ch := make(chan Result, 1)
	obs := NewChannelObserver(ch)

	obs.OnResult(Result{Query: "a"})
	obs.OnResult(Result{Query: "b"})

	got := <-ch
	assert.Equal(t, "a", got.Query)
	assert.Empty(t, ch)
}

func TestClearIsNeverOvertakenByEarlierResult(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	var (
		mu      sync.Mutex
		results []Result
	)
	observer := ObserverFunc(func(r Result) {
		if !r.Cleared {
			entered <- struct{}{}
			<-gate
		}
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	ctrl := NewController(&fakeSearcher{}, nil, observer, Options{AfterFunc: (&manualTimers{}).AfterFunc}, nil)
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.Submit("heat"))
	<-entered

	cleared := make(chan struct{})
	go func() {
		defer close(cleared)
		ctrl.Type("")
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	<-cleared

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	assert.Equal(t, "heat", results[0].Query)
	assert.True(t, results[1].Cleared, "clear is delivered after the result it supersedes")
}
