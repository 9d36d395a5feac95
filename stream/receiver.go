package stream

import (
	"errors"
	"sync"
	"time"
)

type RecvState int

const (
	RecvStateActive RecvState = iota
	RecvStateSuspended
)

// Receiver gets every event a stream publishes. Returning an error suspends
// the receiver until it is reset.
type Receiver func(e Event) error

var ErrReceiverExists = errors.New("receiver already exists")

// Event is a formatted notification ready for a transport to write
type Event struct {
	Stream    string
	EventTime time.Time
	Data      string
}

type receiverEntry struct {
	Name                 string
	State                RecvState
	Reason               string
	ExcludedEventRecords int64
	SentEventRecords     int64
	receiver             Receiver
	detached             bool

	// send serializes calls into receiver, mu guards the fields above
	send sync.Mutex
	mu   sync.Mutex
}

// ReceiverStats is a snapshot of one receiver's counters
type ReceiverStats struct {
	Name                 string
	State                RecvState
	Reason               string
	ExcludedEventRecords int64
	SentEventRecords     int64
}

func (r *receiverEntry) stats() ReceiverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReceiverStats{
		Name:                 r.Name,
		State:                r.State,
		Reason:               r.Reason,
		ExcludedEventRecords: r.ExcludedEventRecords,
		SentEventRecords:     r.SentEventRecords,
	}
}

// deliver runs without the stream lock held so a slow receiver only holds
// up its own events
func (r *receiverEntry) deliver(e Event) {
	r.send.Lock()
	defer r.send.Unlock()
	r.mu.Lock()
	if r.detached {
		r.mu.Unlock()
		return
	}
	if r.State != RecvStateActive {
		r.ExcludedEventRecords++
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	err := r.receiver(e)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.State = RecvStateSuspended
		r.Reason = err.Error()
		r.ExcludedEventRecords++
		return
	}
	r.SentEventRecords++
}

// detach stops further deliveries. With wait set it also waits for one in
// flight to finish, so the receiver's resources can be released after.
func (r *receiverEntry) detach(wait bool) {
	if wait {
		r.send.Lock()
		defer r.send.Unlock()
	}
	r.mu.Lock()
	r.detached = true
	r.mu.Unlock()
}

func (r *receiverEntry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ExcludedEventRecords = 0
	r.SentEventRecords = 0
	r.State = RecvStateActive
	r.Reason = ""
}
