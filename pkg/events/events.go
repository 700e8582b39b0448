package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// QueueSize bounds events published but not yet fanned out
	QueueSize = 100

	// SubscriberBuffer bounds events waiting on one subscriber
	SubscriberBuffer = 50
)

// EventType names what happened
type EventType string

const (
	EventAgentStatus      EventType = "agent.status"
	EventReportReceived   EventType = "report.received"
	EventCommandQueued    EventType = "command.queued"
	EventCommandDelivered EventType = "command.delivered"
)

// Event is something that happened on the coordination server
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Host      string            `json:"host"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Filter selects the events a subscription receives. A nil Filter
// receives everything.
type Filter func(*Event) bool

// ForHost selects events about one host. An empty host selects all.
func ForHost(host string) Filter {
	if host == "" {
		return nil
	}
	return func(ev *Event) bool { return ev.Host == host }
}

// Subscription delivers matching events on C until it is cancelled
type Subscription struct {
	C <-chan *Event

	ch     chan *Event
	filter Filter
}

func (s *Subscription) wants(ev *Event) bool {
	return s.filter == nil || s.filter(ev)
}

// Broker fans events out to subscriptions. Neither publishing nor
// delivery blocks: when a buffer is full the event is dropped and counted.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	queue    chan *Event
	stop     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

func NewBroker() *Broker {
	return &Broker{
		subs:  make(map[*Subscription]struct{}),
		queue: make(chan *Event, QueueSize),
		stop:  make(chan struct{}),
	}
}

// Start runs the fan-out loop until Stop
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case ev := <-b.queue:
				b.deliver(ev)
			case <-b.stop:
				return
			}
		}
	}()
}

// Stop ends the fan-out loop. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Subscribe registers a subscription for events passing filter
func (b *Broker) Subscribe(filter Filter) *Subscription {
	ch := make(chan *Event, SubscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish stamps ev with an ID and time when missing and queues it
func (b *Broker) Publish(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	select {
	case b.queue <- ev:
	default:
		b.dropped.Add(1)
	}
}

func (b *Broker) deliver(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts events lost to a full queue or subscriber buffer
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
