package broker

import (
	"github.com/freeconf/broker/async"
	"github.com/freeconf/broker/store"
	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/fc"
)

// Synchronizer keeps the persisted restconf-state/streams list in step with
// the registry. It only touches the registry once a commit has an outcome.
type Synchronizer struct {
	registry *Registry
	store    store.Store
}

func NewSynchronizer(r *Registry, st store.Store) *Synchronizer {
	return &Synchronizer{registry: r, store: st}
}

// CommitCreate persists rec for a stream already in the registry. Until the
// returned future succeeds the registration is tentative, if the commit
// fails the stream is dropped from the registry again.
func (y *Synchronizer) CommitCreate(s stream.Stream, rec store.StreamRecord) *async.Future[stream.Stream] {
	tx := y.store.NewWriteTx()
	tx.Put(rec)
	result := async.NewFuture[stream.Stream]()
	tx.Commit().OnComplete(func(_ struct{}, err error) {
		if err != nil {
			y.registry.Drop(s.Name(), s)
			result.Fail(failed(ErrAllocation, err, "stream %s", s.Name()))
			return
		}
		fc.Debug.Printf("stream %s added", s.Name())
		result.Set(s)
	})
	return result
}

// CommitRemove deletes the record of s and drops s from the registry
// whatever the commit outcome. The future settles once s is out of the
// registry and carries the commit error, if any. If s is not the registered
// instance nothing is touched and the future holds false.
func (y *Synchronizer) CommitRemove(s stream.Stream) *async.Future[bool] {
	name := s.Name()
	if current, found := y.registry.Lookup(name); !found || current != s {
		fc.Err.Printf("ignoring removal of stream %s, it is not the registered instance", name)
		return async.Completed(false)
	}
	tx := y.store.NewWriteTx()
	tx.Delete(name)
	result := async.NewFuture[bool]()
	tx.Commit().OnComplete(func(_ struct{}, err error) {
		y.registry.Drop(name, s)
		if err != nil {
			fc.Err.Printf("stream %s removed but its record may remain in restconf-state. %s", name, err)
			result.Fail(err)
			return
		}
		fc.Debug.Printf("stream %s removed", name)
		result.Set(true)
	})
	return result
}
