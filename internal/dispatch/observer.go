package dispatch

// Observer receives search outcomes in order. OnResult is called from the
// goroutine that ran the search, must not block for long and must not call
// back into the Controller.
type Observer interface {
	OnResult(Result)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Result)

func (f ObserverFunc) OnResult(r Result) { f(r) }

// ChannelObserver forwards results to a channel.
type ChannelObserver struct {
	ch chan<- Result
}

// NewChannelObserver creates a new channel-based observer.
func NewChannelObserver(ch chan<- Result) *ChannelObserver {
	return &ChannelObserver{ch: ch}
}

// OnResult sends the result to the channel (non-blocking if full).
func (o *ChannelObserver) OnResult(r Result) {
	select {
	case o.ch <- r:
	default: // Dropped; a newer result will follow
	}
}
