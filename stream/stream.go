package stream

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/freeconf/yang/fc"
	"github.com/freeconf/yang/node"
)

// Stream is a named source of events. There are exactly three kinds,
// *ChangeStream, *NotificationStream and *DeviceNotificationStream.
type Stream interface {
	Name() string
	Description() string
	Encoding() Encoding

	// Subscribe attaches a named receiver, failing with ErrReceiverExists
	// if the name is taken.
	Subscribe(name string, r Receiver) error

	// Unsubscribe detaches a receiver and returns once no event is being
	// delivered to it. Detaching the last receiver fires the stream's idle
	// hook.
	Unsubscribe(name string)

	// Publish formats one notification and hands it to every receiver
	Publish(n node.Notification)

	Receivers() []ReceiverStats

	// ResetReceiver clears counters and reactivates a suspended receiver
	ResetReceiver(name string) bool

	// Close releases upstream bindings and drops all receivers. Safe to
	// call more than once.
	Close() error

	isStream()
}

// IdleHook is called when the last receiver leaves a stream
type IdleHook func(s Stream)

type base struct {
	self        Stream
	name        string
	description string
	encoding    Encoding
	onIdle      IdleHook

	mu        sync.Mutex
	receivers *list.List
	closers   []node.NotifyCloser
	closed    bool
}

func (b *base) init(self Stream, name string, description string, enc Encoding, onIdle IdleHook) {
	b.self = self
	b.name = name
	b.description = description
	b.encoding = enc
	b.onIdle = onIdle
	b.receivers = list.New()
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Description() string {
	return b.description
}

func (b *base) Encoding() Encoding {
	return b.encoding
}

func (b *base) isStream() {}

func (b *base) Subscribe(name string, r Receiver) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.find(name) != nil {
		return ErrReceiverExists
	}
	b.receivers.PushBack(&receiverEntry{Name: name, receiver: r})
	return nil
}

func (b *base) find(name string) *list.Element {
	for e := b.receivers.Front(); e != nil; e = e.Next() {
		if e.Value.(*receiverEntry).Name == name {
			return e
		}
	}
	return nil
}

func (b *base) Unsubscribe(name string) {
	b.mu.Lock()
	e := b.find(name)
	if e == nil {
		b.mu.Unlock()
		return
	}
	b.receivers.Remove(e)
	idle := b.receivers.Len() == 0 && !b.closed
	b.mu.Unlock()
	e.Value.(*receiverEntry).detach(true)
	if idle && b.onIdle != nil {
		fc.Debug.Printf("stream %s has no more receivers", b.name)
		b.onIdle(b.self)
	}
}

func (b *base) Receivers() []ReceiverStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := make([]ReceiverStats, 0, b.receivers.Len())
	for e := b.receivers.Front(); e != nil; e = e.Next() {
		stats = append(stats, e.Value.(*receiverEntry).stats())
	}
	return stats
}

func (b *base) ResetReceiver(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.find(name)
	if e == nil {
		return false
	}
	e.Value.(*receiverEntry).reset()
	return true
}

func (b *base) Publish(n node.Notification) {
	data, err := FormatEvent(b.encoding, n.EventTime, n.Event)
	if err != nil {
		fc.Err.Printf("stream %s could not format event. %s", b.name, err)
		return
	}
	b.publish(Event{Stream: b.name, EventTime: n.EventTime, Data: data})
}

func (b *base) publish(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := make([]*receiverEntry, 0, b.receivers.Len())
	for p := b.receivers.Front(); p != nil; p = p.Next() {
		targets = append(targets, p.Value.(*receiverEntry))
	}
	b.mu.Unlock()
	for _, r := range targets {
		r.deliver(e)
	}
}

// bind keeps upstream subscriptions so Close can release them. Returns
// false if the stream closed meanwhile, in which case the caller owns the
// closers.
func (b *base) bind(closers []node.NotifyCloser) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closers = append(b.closers, closers...)
	return true
}

func (b *base) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	closers := b.closers
	b.closers = nil
	for p := b.receivers.Front(); p != nil; p = p.Next() {
		p.Value.(*receiverEntry).detach(false)
	}
	b.receivers.Init()
	b.mu.Unlock()
	var firstErr error
	for _, closer := range closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NotificationService is where streams find YANG notifications to listen
// to. device.Device satisfies it.
type NotificationService interface {
	Browser(module string) (*node.Browser, error)
}

// subscribeAll subscribes to every notification in paths, all or nothing
func subscribeAll(svc NotificationService, paths []QName, handler func(node.Notification)) ([]node.NotifyCloser, error) {
	var closers []node.NotifyCloser
	undo := func() {
		for _, c := range closers {
			c()
		}
	}
	for _, p := range paths {
		b, err := svc.Browser(p.Module)
		if err != nil {
			undo()
			return nil, err
		}
		if b == nil {
			undo()
			return nil, fmt.Errorf("%w. module %s", fc.NotFoundError, p.Module)
		}
		sel, err := b.Root().Find(p.Ident)
		if err != nil {
			undo()
			return nil, err
		}
		if sel == nil {
			undo()
			return nil, fmt.Errorf("%w. notification %s", fc.NotFoundError, p)
		}
		closer, err := sel.Notifications(handler)
		if err != nil {
			undo()
			return nil, err
		}
		closers = append(closers, closer)
	}
	return closers, nil
}
