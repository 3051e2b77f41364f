package controlplane

import (
	"sync"
	"time"
)

// EventType categorizes a DomainEvent published by the orchestrator.
type EventType string

const (
	EventTransitionExecuted       EventType = "transition.executed"
	EventTransitionFailed         EventType = "transition.failed"
	EventContainerTransitioned    EventType = "container.transitioned"
	EventContainerTransitionError EventType = "container.transition_failed"
	EventRuleTriggered            EventType = "rule.triggered"
	EventReconciliationRepair     EventType = "reconciliation.repair"
)

// DomainEvent is an internal notification about control plane activity,
// distinct from the types.Event the rules engine produces: this is for
// observers that subscribe to the Broker (the orchestrator and the
// reconciler publish them), not for driving other machines.
type DomainEvent struct {
	Type      EventType
	Timestamp time.Time
	MachineID string
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives DomainEvents.
type Subscriber chan *DomainEvent

// Broker fans DomainEvents out to every subscriber, adapted from the
// teacher's cluster-event broker: a buffered intake channel decouples
// publishers from slow subscribers, and each subscriber has its own
// bounded buffer so one slow consumer can't block another.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *DomainEvent
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *DomainEvent, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's dispatch loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues event for dispatch. Timestamp is filled in if zero.
func (b *Broker) Publish(event *DomainEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *DomainEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full; drop rather than block the broker.
		}
	}
}

// SubscriberCount reports how many subscribers are currently attached.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
