// Package dispatch turns raw search-box input into debounced searches with
// at most one pending timer and only the newest response delivered.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/tagline/internal/domain"
)

const (
	DefaultDebounce  = 500 * time.Millisecond
	DefaultMinLength = 2
)

// State of the single search slot
type State int

const (
	StateIdle State = iota
	StatePending
	StateInFlight
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in-flight"
	default:
		return "idle"
	}
}

// Searcher runs the remote text search
type Searcher interface {
	SearchByText(ctx context.Context, text string, page int) (*domain.SearchPage, error)
}

// Recorder stores dispatched queries
type Recorder interface {
	RecordQuery(text string) error
}

// Timer is the part of *time.Timer the controller uses
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It has the shape of time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Result is one delivered outcome. Cleared results carry no query.
type Result struct {
	Query      string
	Generation uint64
	Page       *domain.SearchPage
	Err        error
	Cleared    bool
}

// Options tunes a Controller. Zero values use the defaults.
type Options struct {
	Debounce  time.Duration
	MinLength int
	AfterFunc AfterFunc
}

// Controller owns the current-search slot
type Controller struct {
	searcher  Searcher
	history   Recorder
	observer  Observer
	logger    *slog.Logger
	debounce  time.Duration
	minLength int
	afterFunc AfterFunc

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	// emitMu orders deliveries. Lock order is emitMu then mu.
	emitMu sync.Mutex

	mu         sync.Mutex
	state      State
	text       string
	generation uint64
	timer      Timer
	cancel     context.CancelFunc
	closed     bool
}

// NewController creates a controller. history may be nil.
func NewController(searcher Searcher, history Recorder, observer Observer, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}

	base, shutdown := context.WithCancel(context.Background())
	return &Controller{
		searcher:  searcher,
		history:   history,
		observer:  observer,
		logger:    logger,
		debounce:  opts.Debounce,
		minLength: opts.MinLength,
		afterFunc: opts.AfterFunc,
		base:      base,
		shutdown:  shutdown,
	}
}

// State returns the current slot state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Type handles a keystroke. Any pending timer is cancelled and a running
// search is superseded. Text of at least the minimum length re-arms the
// debounce timer; empty text clears the results.
func (c *Controller) Type(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	gen := c.supersedeLocked()

	query := strings.TrimSpace(text)
	switch {
	case query == "":
		c.state = StateIdle
		c.text = ""
		c.mu.Unlock()
		// Waits out any result already past its generation check, so the
		// clear is always the last thing the observer sees
		c.emitMu.Lock()
		c.emit(Result{Generation: gen, Cleared: true})
		c.emitMu.Unlock()
		return

	case utf8.RuneCountInString(query) < c.minLength:
		c.state = StateIdle
		c.text = query
		c.mu.Unlock()
		return
	}

	c.state = StatePending
	c.text = query
	c.timer = c.afterFunc(c.debounce, func() { c.fire(gen) })
	c.mu.Unlock()
}

// Submit searches immediately, skipping the debounce window
func (c *Controller) Submit(text string) error {
	query := strings.TrimSpace(text)
	if utf8.RuneCountInString(query) < c.minLength {
		return fmt.Errorf("%q: %w", query, domain.ErrInvalidQuery)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return context.Canceled
	}
	gen := c.supersedeLocked()
	c.text = query
	c.dispatchLocked(query, gen)
	return nil
}

// Select runs a search picked from history
func (c *Controller) Select(entry domain.SearchHistoryEntry) error {
	return c.Submit(entry.Query)
}

// Close cancels pending work and waits for running searches to return
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.supersedeLocked()
	c.state = StateIdle
	c.mu.Unlock()

	c.shutdown()
	c.wg.Wait()
}

// supersedeLocked starts a new generation, stopping the timer and
// cancelling any running search
func (c *Controller) supersedeLocked() uint64 {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return c.generation
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A timer that lost the race with Stop still runs; its generation is stale
	if c.closed || gen != c.generation || c.state != StatePending {
		return
	}
	c.timer = nil
	c.dispatchLocked(c.text, gen)
}

func (c *Controller) dispatchLocked(query string, gen uint64) {
	ctx, cancel := context.WithCancel(c.base)
	c.state = StateInFlight
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx, cancel, query, gen)
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, query string, gen uint64) {
	defer c.wg.Done()
	defer cancel()

	if c.history != nil {
		if err := c.history.RecordQuery(query); err != nil {
			c.logger.Warn("failed to record search history", "query", query, "error", err)
		}
	}

	c.logger.Debug("search dispatched", "query", query, "generation", gen)
	page, err := c.searcher.SearchByText(ctx, query, 1)

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("discarding stale search result", "query", query, "generation", gen)
		return
	}
	c.state = StateIdle
	c.cancel = nil
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("search failed", "query", query, "error", err)
	}
	c.emit(Result{Query: query, Generation: gen, Page: page, Err: err})
}

func (c *Controller) emit(r Result) {
	if c.observer != nil {
		c.observer.OnResult(r)
	}
}
