package coordinator

import (
	"sync"
	"time"

	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/notify"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/rs/zerolog"
)

// EventInit is the type of the snapshot frame sent first on every stream.
const EventInit eventbus.Event = "init"

// Event is one frame pushed to live observers. Seq is assigned per
// subscription and increases by one with every delivered frame.
type Event struct {
	Seq          int64                `json:"seq"`
	Type         eventbus.Event       `json:"type"`
	At           time.Time            `json:"at"`
	TaskID       string               `json:"taskId,omitempty"`
	WorkerID     string               `json:"workerId,omitempty"`
	Task         *task.Task           `json:"task,omitempty"`
	Message      *messaging.Message   `json:"message,omitempty"`
	Lease        *lease.Lease         `json:"lease,omitempty"`
	Unblocked    []task.Task          `json:"unblocked,omitempty"`
	Cause        string               `json:"cause,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`

	// Populated on init frames only.
	Tasks   []task.Task     `json:"tasks,omitempty"`
	Workers []WorkerSession `json:"workers,omitempty"`
}

// SessionKey returns the conversation the event belongs to, or "" for
// events that are not tied to one.
func (e Event) SessionKey() string {
	switch {
	case e.Message != nil:
		return e.Message.SessionKey
	case e.TaskID != "":
		return task.SessionKey(e.TaskID)
	case e.Task != nil:
		return e.Task.SessionKey()
	}
	return ""
}

// Filter restricts which events a subscription receives.
type Filter struct {
	// SessionKey limits delivery to events of one conversation. Empty means
	// everything.
	SessionKey string
}

func (f Filter) match(e Event) bool {
	if f.SessionKey == "" || e.Type == EventInit {
		return true
	}
	return e.SessionKey() == f.SessionKey
}

// Subscription is a live feed of events. Its channel is closed when the
// subscriber unsubscribes or falls too far behind.
type Subscription struct {
	hub    *Hub
	filter Filter
	ch     chan Event
	seq    int64
	closed bool
	// dropped is set when the hub cut the subscriber off for being slow.
	dropped bool
}

// Events returns the channel frames are delivered on.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports whether the hub closed the subscription because its
// buffer filled up.
func (s *Subscription) Dropped() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s, false)
}

// Hub fans events out to live subscribers. Delivery never blocks the
// publisher: a subscriber whose buffer is full is disconnected.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	log    zerolog.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer frames.
func NewHub(buffer int, log zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registers a new subscription.
func (h *Hub) Subscribe(f Filter) *Subscription {
	s := &Subscription{hub: h, filter: f, ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.log.Debug().Str("session", f.SessionKey).Int("subscribers", n).Msg("subscriber added")
	return s
}

// Send delivers e to one subscription only, stamping its sequence number.
// It is used for the init frame.
func (h *Hub) Send(s *Subscription, e Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deliverLocked(s, e)
}

// Broadcast delivers e to every matching subscription.
func (h *Hub) Broadcast(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		if s.filter.match(e) {
			h.deliverLocked(s, e)
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) deliverLocked(s *Subscription, e Event) bool {
	if s.closed {
		return false
	}

	e.Seq = s.seq + 1
	select {
	case s.ch <- e:
		s.seq = e.Seq
		return true
	default:
		h.log.Warn().Str("session", s.filter.SessionKey).Str("event", string(e.Type)).Msg("dropping slow subscriber")
		s.dropped = true
		h.closeLocked(s)
		return false
	}
}

func (h *Hub) remove(s *Subscription, dropped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if dropped {
		s.dropped = true
	}
	h.closeLocked(s)
}

func (h *Hub) closeLocked(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	delete(h.subs, s)
	close(s.ch)
}
