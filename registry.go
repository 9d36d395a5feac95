package broker

import (
	"sort"
	"sync"

	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/fc"
)

// MaxNameAttempts bounds how often AllocateAndRegister retries after a name
// collision. Reaching it means the name generator is broken, not unlucky.
const MaxNameAttempts = 8

// Registry maps stream names to live streams. A name maps to at most one
// stream and nothing else touches the underlying map.
type Registry struct {
	streams sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

// AllocateAndRegister builds a stream under a freshly generated name and
// registers it. On a collision the whole generate, construct and insert
// cycle is repeated.
func (r *Registry) AllocateAndRegister(gen NameGenerator, ctor func(name string) stream.Stream) (stream.Stream, error) {
	for attempt := 1; attempt <= MaxNameAttempts; attempt++ {
		name := gen()
		s := ctor(name)
		if _, loaded := r.streams.LoadOrStore(name, s); !loaded {
			return s, nil
		}
		fc.Err.Printf("stream name %s already in use, attempt %d of %d", name, attempt, MaxNameAttempts)
	}
	return nil, failed(ErrNameExhausted, nil, "gave up after %d attempts", MaxNameAttempts)
}

func (r *Registry) Lookup(name string) (stream.Stream, bool) {
	v, found := r.streams.Load(name)
	if !found {
		return nil, false
	}
	return v.(stream.Stream), true
}

// Drop removes name only while it still maps to expected
func (r *Registry) Drop(name string, expected stream.Stream) bool {
	if r.streams.CompareAndDelete(name, expected) {
		return true
	}
	fc.Err.Printf("stream %s not dropped, it is not the registered instance", name)
	return false
}

// Len counts registered streams
func (r *Registry) Len() int {
	n := 0
	r.streams.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Names of registered streams in order
func (r *Registry) Names() []string {
	var names []string
	r.streams.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Each calls fn for every registered stream
func (r *Registry) Each(fn func(stream.Stream)) {
	r.streams.Range(func(_, v any) bool {
		fn(v.(stream.Stream))
		return true
	})
}
