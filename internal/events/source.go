// Package events maintains the live chat event stream: an EventSub
// websocket source, a line-oriented IRC fallback, and the coordinator
// that fails over between them.
package events

import (
	"context"
	"sync"

	"github.com/angrmgmt/cliparino/internal/twitch"
)

// Source is the contract both event sources implement. Events() is a
// restartable stream: it is replaced by Connect and closed when the
// connection dies, which is how stream errors surface to the coordinator.
type Source interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Name() string
	Events() <-chan twitch.Event
}

// eventBuffer is an unbounded FIFO between a network reader and the
// consumer. The reader never blocks on a slow consumer; the pump goroutine
// holds the backlog.
type eventBuffer struct {
	mu        sync.Mutex
	backlog   []twitch.Event
	wake      chan struct{}
	out       chan twitch.Event
	quit      chan struct{}
	closeOnce sync.Once
}

func newEventBuffer() *eventBuffer {
	b := &eventBuffer{
		wake: make(chan struct{}, 1),
		out:  make(chan twitch.Event),
		quit: make(chan struct{}),
	}
	go b.pump()
	return b
}

// Push appends an event. Never blocks. Push after Close is a no-op.
func (b *eventBuffer) Push(ev twitch.Event) {
	select {
	case <-b.quit:
		return
	default:
	}

	b.mu.Lock()
	b.backlog = append(b.backlog, ev)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Out is the consumer side. Closed once the buffer shuts down.
func (b *eventBuffer) Out() <-chan twitch.Event {
	return b.out
}

// Close stops the pump. Undelivered backlog is dropped; the connection is
// gone by the time this runs, so the events are stale anyway.
func (b *eventBuffer) Close() {
	b.closeOnce.Do(func() { close(b.quit) })
}

func (b *eventBuffer) pump() {
	defer close(b.out)

	for {
		b.mu.Lock()
		var next twitch.Event
		have := false
		if len(b.backlog) > 0 {
			next = b.backlog[0]
			b.backlog = b.backlog[1:]
			have = true
		}
		b.mu.Unlock()

		if have {
			select {
			case b.out <- next:
			case <-b.quit:
				return
			}
			continue
		}

		select {
		case <-b.wake:
		case <-b.quit:
			return
		}
	}
}
