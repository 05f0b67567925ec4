package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"signum.org/internal/roster"
)

// DecisionEvent is what stream subscribers (SSE clients, embedded bot shells)
// receive for every new decision request.
type DecisionEvent struct {
	TenantID   string         `json:"tenant_id"`
	MessageRef string         `json:"message_ref"`
	Request    roster.Request `json:"request"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Stream fan-outs decision requests to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan DecisionEvent
	next int
}

var _ roster.Notifier = (*Stream)(nil)

// NewStream initialises an empty stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan DecisionEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan DecisionEvent {
	ch := make(chan DecisionEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt DecisionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// PostDecisionRequest publishes the request to all subscribers and returns a
// fresh message reference.
func (s *Stream) PostDecisionRequest(ctx context.Context, tenantID string, req roster.Request) (string, error) {
	ref := uuid.NewString()
	s.Publish(DecisionEvent{
		TenantID:   tenantID,
		MessageRef: ref,
		Request:    req,
		Timestamp:  time.Now().UTC(),
	})
	return ref, nil
}
