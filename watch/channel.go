package watch

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDisconnected is returned by Receiver once the sender is gone and all
	// queued events have been received, and by Sender once the receiver has
	// been closed.
	ErrDisconnected = errors.New("watch: disconnected")

	// ErrEmpty is returned by TryRecv when no event is queued.
	ErrEmpty = errors.New("watch: no event")
)

// NewChannel returns the two ends of an unbounded event queue.
//
// Sends never block. A receiver that is never drained keeps every event sent
// to it in memory, so watchers that are no longer read should be unwatched.
func NewChannel() (*Sender, *Receiver) {
	q := &queue{signal: make(chan struct{}, 1)}
	return &Sender{q: q}, &Receiver{q: q}
}

type queue struct {
	mu             sync.Mutex
	events         []Event
	signal         chan struct{}
	senderClosed   bool
	receiverClosed bool
}

func (q *queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

type Sender struct {
	q *queue
}

func (s *Sender) Send(ev Event) error {
	q := s.q
	q.mu.Lock()
	if q.receiverClosed || q.senderClosed {
		q.mu.Unlock()
		return ErrDisconnected
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Close marks the sending side gone. Events already queued can still be
// received.
func (s *Sender) Close() {
	q := s.q
	q.mu.Lock()
	q.senderClosed = true
	q.mu.Unlock()
	q.wake()
}

// Receiver is the consuming end of a watcher's queue. It is meant to be read
// by a single goroutine.
type Receiver struct {
	q *queue
}

// Recv blocks until an event is available or the sender is gone.
func (r *Receiver) Recv() (Event, error) {
	return r.RecvContext(context.Background())
}

// RecvContext is like Recv, but gives up with ctx.Err() when ctx is done.
func (r *Receiver) RecvContext(ctx context.Context) (Event, error) {
	for {
		ev, err := r.TryRecv()
		if err != ErrEmpty {
			return ev, err
		}
		select {
		case <-r.q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryRecv returns the next queued event without blocking, ErrEmpty if there
// is none, or ErrDisconnected if there is none and never will be.
func (r *Receiver) TryRecv() (Event, error) {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) > 0 {
		ev := q.events[0]
		q.events[0] = nil
		q.events = q.events[1:]
		if len(q.events) == 0 {
			q.events = nil
		} else {
			q.wake()
		}
		return ev, nil
	}
	if q.senderClosed || q.receiverClosed {
		return nil, ErrDisconnected
	}
	return nil, ErrEmpty
}

// Len returns the number of queued events.
func (r *Receiver) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.events)
}

// Close drops all queued events and makes further sends fail.
func (r *Receiver) Close() {
	q := r.q
	q.mu.Lock()
	q.receiverClosed = true
	q.events = nil
	q.mu.Unlock()
	q.wake()
}
