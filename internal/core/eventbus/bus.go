package eventbus

import (
	"context"
	"sync"
)

type envelope struct {
	event   Event
	payload any
}

// EventBus dispatches published events to subscribers on a single goroutine,
// so subscribers observe events in publish order. Publishing never blocks:
// when the buffer is full the event is dropped and OnDrop hooks fire.
type EventBus struct {
	ch    chan envelope
	hooks hooks

	mu   sync.RWMutex
	subs map[Event][]func(any)
	all  []func(Event, any)
}

// New creates a bus with the given queue size.
func New(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 1
	}
	return &EventBus{
		ch:   make(chan envelope, buffer),
		subs: make(map[Event][]func(any)),
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (bus *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-bus.ch:
			bus.dispatch(env)
		}
	}
}

// SubscribeAll registers fn for every event.
func (bus *EventBus) SubscribeAll(fn func(Event, any)) {
	bus.mu.Lock()
	bus.all = append(bus.all, fn)
	bus.mu.Unlock()
	bus.runOnSubscribe("*")
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()
	bus.runOnSubscribe(event)
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	subs := append([]func(any){}, bus.subs[env.event]...)
	all := append([]func(Event, any){}, bus.all...)
	bus.mu.RUnlock()

	for _, fn := range subs {
		bus.safeCall(env, func() { fn(env.payload) })
	}
	for _, fn := range all {
		bus.safeCall(env, func() { fn(env.event, env.payload) })
	}
}

func (bus *EventBus) safeCall(env envelope, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			bus.runOnPanic(env.event, env.payload, r)
		}
	}()
	fn()
}

func (bus *EventBus) runOnSubscribe(event Event) {
	bus.hooks.mu.RLock()
	hooks := make([]func(Event), len(bus.hooks.onSubscribe))
	copy(hooks, bus.hooks.onSubscribe)
	bus.hooks.mu.RUnlock()
	for _, fn := range hooks {
		fn(event)
	}
}

// Typed publish/subscribe pairs. Keep sorted A-Z by event.

func (bus *EventBus) PublishLeaseReclaimed(p LeaseReclaimedPayload) {
	bus.send(EventLeaseReclaimed, p)
}

func (bus *EventBus) SubscribeLeaseReclaimed(fn func(LeaseReclaimedPayload)) {
	bus.subscribe(EventLeaseReclaimed, func(p any) { fn(p.(LeaseReclaimedPayload)) })
}

func (bus *EventBus) PublishMessagePublished(p MessagePublishedPayload) {
	bus.send(EventMessagePublished, p)
}

func (bus *EventBus) SubscribeMessagePublished(fn func(MessagePublishedPayload)) {
	bus.subscribe(EventMessagePublished, func(p any) { fn(p.(MessagePublishedPayload)) })
}

func (bus *EventBus) PublishMessageUpdated(p MessageUpdatedPayload) {
	bus.send(EventMessageUpdated, p)
}

func (bus *EventBus) SubscribeMessageUpdated(fn func(MessageUpdatedPayload)) {
	bus.subscribe(EventMessageUpdated, func(p any) { fn(p.(MessageUpdatedPayload)) })
}

func (bus *EventBus) PublishNotificationPublished(p NotificationPublishedPayload) {
	bus.send(EventNotificationPublished, p)
}

func (bus *EventBus) SubscribeNotificationPublished(fn func(NotificationPublishedPayload)) {
	bus.subscribe(EventNotificationPublished, func(p any) { fn(p.(NotificationPublishedPayload)) })
}

func (bus *EventBus) PublishTaskApproved(p TaskApprovedPayload) {
	bus.send(EventTaskApproved, p)
}

func (bus *EventBus) SubscribeTaskApproved(fn func(TaskApprovedPayload)) {
	bus.subscribe(EventTaskApproved, func(p any) { fn(p.(TaskApprovedPayload)) })
}

func (bus *EventBus) PublishTaskBlocked(p TaskBlockedPayload) {
	bus.send(EventTaskBlocked, p)
}

func (bus *EventBus) SubscribeTaskBlocked(fn func(TaskBlockedPayload)) {
	bus.subscribe(EventTaskBlocked, func(p any) { fn(p.(TaskBlockedPayload)) })
}

func (bus *EventBus) PublishTaskClaimed(p TaskClaimedPayload) {
	bus.send(EventTaskClaimed, p)
}

func (bus *EventBus) SubscribeTaskClaimed(fn func(TaskClaimedPayload)) {
	bus.subscribe(EventTaskClaimed, func(p any) { fn(p.(TaskClaimedPayload)) })
}

func (bus *EventBus) PublishTaskCompleted(p TaskCompletedPayload) {
	bus.send(EventTaskCompleted, p)
}

func (bus *EventBus) SubscribeTaskCompleted(fn func(TaskCompletedPayload)) {
	bus.subscribe(EventTaskCompleted, func(p any) { fn(p.(TaskCompletedPayload)) })
}

func (bus *EventBus) PublishTaskCreated(p TaskCreatedPayload) {
	bus.send(EventTaskCreated, p)
}

func (bus *EventBus) SubscribeTaskCreated(fn func(TaskCreatedPayload)) {
	bus.subscribe(EventTaskCreated, func(p any) { fn(p.(TaskCreatedPayload)) })
}

func (bus *EventBus) PublishTaskDeleted(p TaskDeletedPayload) {
	bus.send(EventTaskDeleted, p)
}

func (bus *EventBus) SubscribeTaskDeleted(fn func(TaskDeletedPayload)) {
	bus.subscribe(EventTaskDeleted, func(p any) { fn(p.(TaskDeletedPayload)) })
}

func (bus *EventBus) PublishTaskReleased(p TaskReleasedPayload) {
	bus.send(EventTaskReleased, p)
}

func (bus *EventBus) SubscribeTaskReleased(fn func(TaskReleasedPayload)) {
	bus.subscribe(EventTaskReleased, func(p any) { fn(p.(TaskReleasedPayload)) })
}

func (bus *EventBus) PublishTaskReset(p TaskResetPayload) {
	bus.send(EventTaskReset, p)
}

func (bus *EventBus) SubscribeTaskReset(fn func(TaskResetPayload)) {
	bus.subscribe(EventTaskReset, func(p any) { fn(p.(TaskResetPayload)) })
}

func (bus *EventBus) PublishTaskUpdated(p TaskUpdatedPayload) {
	bus.send(EventTaskUpdated, p)
}

func (bus *EventBus) SubscribeTaskUpdated(fn func(TaskUpdatedPayload)) {
	bus.subscribe(EventTaskUpdated, func(p any) { fn(p.(TaskUpdatedPayload)) })
}
