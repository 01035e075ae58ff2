// Package playback owns the clip queue and the state machine that drives
// the overlay.
package playback

import (
	"sync"

	"github.com/angrmgmt/cliparino/internal/twitch"
)

// Queue is a thread-safe FIFO of clips plus the single last-played slot.
// Multiple producers enqueue; only the engine dequeues. LastPlayed is
// written by the engine alone, and only once a clip actually starts
// playing.
type Queue struct {
	mu         sync.Mutex
	items      []twitch.Clip
	lastPlayed *twitch.Clip
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a clip.
func (q *Queue) Enqueue(clip twitch.Clip) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, clip)
}

// Dequeue removes and returns the head clip.
func (q *Queue) Dequeue() (twitch.Clip, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return twitch.Clip{}, false
	}
	clip := q.items[0]
	q.items = q.items[1:]
	return clip, true
}

// Len returns the number of queued clips.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops all queued clips. LastPlayed is untouched.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// LastPlayed returns the most recently played clip, if any.
func (q *Queue) LastPlayed() (twitch.Clip, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastPlayed == nil {
		return twitch.Clip{}, false
	}
	return *q.lastPlayed, true
}

// SetLastPlayed records the clip that just entered playback.
func (q *Queue) SetLastPlayed(clip twitch.Clip) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := clip
	q.lastPlayed = &c
}
