package pipeline

import (
	"sync"

	"github.com/jonathan/brigade/internal/pipeline/steps"
)

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Step       string      `json:"step"`
	Stage      steps.Stage `json:"stage,omitempty"`
	Message    string      `json:"message"`
	SessionID  string      `json:"session_id"`
	Generation int         `json:"generation"`
	Content    any         `json:"content,omitempty"`
}

// Event steps that are not roles
const (
	StepStarted   = "started"
	StepCompleted = "completed"
	StepFailed    = "failed"
	// StepDiscarded ends a generation that was superseded by a re-run or whose
	// session was deleted
	StepDiscarded = "discarded"
)

// ProgressCallback is called for each progress event
type ProgressCallback func(event ProgressEvent)

// Broadcaster fans progress events out to per-session subscribers. Slow subscribers
// drop events rather than block the pipeline.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[chan ProgressEvent]struct{}
	buffer int
}

// NewBroadcaster creates a Broadcaster with the given per-subscriber buffer
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 32
	}
	return &Broadcaster{subs: make(map[string]map[chan ProgressEvent]struct{}), buffer: buffer}
}

// Subscribe returns a channel of events for sessionID and a function that ends the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, b.buffer)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan ProgressEvent]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[sessionID], ch)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers event to the subscribers of its session
func (b *Broadcaster) Publish(event ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions for sessionID
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}
