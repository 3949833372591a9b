package savedlist

import (
	"sync"

	"github.com/mmcdole/tagline/internal/domain"
)

// Feed is a live view of the saved list. Each update replaces the previous
// snapshot in full. Close releases the remote subscription.
type Feed struct {
	sub     domain.ListSubscription
	updates chan []domain.SavedItem
	done    chan struct{}

	mu       sync.RWMutex
	snapshot []domain.SavedItem
	received bool
}

func newFeed(sub domain.ListSubscription) *Feed {
	return &Feed{
		sub:     sub,
		updates: make(chan []domain.SavedItem, 1),
		done:    make(chan struct{}),
	}
}

// Updates delivers snapshots, newest first. A consumer that falls behind
// only sees the latest one. Closed when the feed ends.
func (f *Feed) Updates() <-chan []domain.SavedItem {
	return f.updates
}

// Snapshot returns the last received list and whether one has arrived yet
func (f *Feed) Snapshot() ([]domain.SavedItem, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.SavedItem, len(f.snapshot))
	copy(out, f.snapshot)
	return out, f.received
}

// Err returns the error that ended the underlying subscription, if any
func (f *Feed) Err() error {
	return f.sub.Err()
}

// Close releases the subscription and waits for the feed to drain.
// No update is delivered after Close returns.
func (f *Feed) Close() error {
	err := f.sub.Close()
	<-f.done
	return err
}

// pump is the only sender on f.updates
func (f *Feed) pump(decode func([]domain.ListDocument) []domain.SavedItem) {
	defer close(f.done)
	defer close(f.updates)

	for docs := range f.sub.Updates() {
		items := decode(docs)

		f.mu.Lock()
		f.snapshot = items
		f.received = true
		f.mu.Unlock()

		f.send(items)
	}
}

func (f *Feed) send(items []domain.SavedItem) {
	for {
		select {
		case f.updates <- items:
			return
		default:
		}
		select {
		case <-f.updates:
		default:
		}
	}
}
