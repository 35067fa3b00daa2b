package cascade

import (
	"sync"
	"time"
)

// defaultStreamCapacity is the per-subscriber channel buffer.
const defaultStreamCapacity = 1000

// EventStream is an append-only, offset-addressed event log with live
// broadcast and history replay. Appends are serialised so offsets form a
// contiguous, strictly increasing range starting at 0. An append never
// blocks waiting for subscribers: a receiver that lags past its buffer
// capacity loses its oldest undelivered events and recovers by calling
// FromOffset with its last seen offset + 1.
type EventStream struct {
	mu         sync.RWMutex
	history    []Event
	nextOffset uint64
	subs       map[uint64]*Subscription
	nextSubID  uint64
	capacity   int
}

// NewEventStream creates a stream with the default subscriber capacity.
func NewEventStream() *EventStream {
	return NewEventStreamWithCapacity(defaultStreamCapacity)
}

// NewEventStreamWithCapacity creates a stream whose subscribers buffer up
// to capacity undelivered events.
func NewEventStreamWithCapacity(capacity int) *EventStream {
	if capacity < 1 {
		capacity = 1
	}
	return &EventStream{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
	}
}

// Subscription is a bounded receiver of live events.
type Subscription struct {
	id     uint64
	ch     chan Event
	stream *EventStream
	once   sync.Once
}

// Events returns the receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close detaches the subscription from the stream and closes its channel.
// Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.stream.mu.Lock()
		delete(s.stream.subs, s.id)
		close(s.ch)
		s.stream.mu.Unlock()
	})
}

// Subscribe returns a live receiver for events appended after this call.
func (s *EventStream) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &Subscription{
		id:     s.nextSubID,
		ch:     make(chan Event, s.capacity),
		stream: s,
	}
	s.subs[sub.id] = sub
	s.nextSubID++
	return sub
}

// Append assigns the next offset to ev, stamps its id and timestamp,
// stores it in history, and fans it out to live subscribers. The
// component id is validated per scope; on a violation the event is
// rejected with a *ErrConfig and no offset is consumed.
func (s *EventStream) Append(ev Event) (uint64, error) {
	if err := validateComponentID(ev.Scope, ev.ComponentID); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = newEventID()
	ev.Offset = s.nextOffset
	ev.Timestamp = time.Now().UTC()
	s.nextOffset++
	s.history = append(s.history, ev)

	for _, sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			// Full buffer: drop the oldest undelivered event to make room.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}

	return ev.Offset, nil
}

// FromOffset returns a snapshot of every event with offset >= o,
// in offset order. May be empty.
func (s *EventStream) FromOffset(o uint64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o >= s.nextOffset {
		return nil
	}
	// Offsets are contiguous from 0, so the offset is the history index.
	out := make([]Event, s.nextOffset-o)
	copy(out, s.history[o:])
	return out
}

// All returns a snapshot of the full history.
func (s *EventStream) All() []Event {
	return s.FromOffset(0)
}

// Len returns the number of appended events.
func (s *EventStream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// CurrentOffset returns the offset the next appended event will receive.
func (s *EventStream) CurrentOffset() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOffset
}
