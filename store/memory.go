package store

import (
	"context"
	"sort"
	"sync"

	"github.com/freeconf/broker/async"
)

// CommitHook sees every commit before it is applied. A non-nil error
// fails the commit and nothing is applied.
type CommitHook func(puts []StreamRecord, deletes []string) error

// Memory is a Store that keeps records in a map. Commits still complete on
// their own goroutine so callers see the same asynchronous behavior as a
// real store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]StreamRecord
	hook    CommitHook
	commits int
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]StreamRecord),
	}
}

// OnCommit installs a hook that can observe or fail commits
func (m *Memory) OnCommit(hook CommitHook) {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
}

// Commits counts successful commits
func (m *Memory) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

func (m *Memory) Get(name string) (StreamRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, found := m.records[name]
	return rec, found
}

func (m *Memory) NewWriteTx() WriteTx {
	return &memoryTx{store: m}
}

func (m *Memory) List(ctx context.Context) ([]StreamRecord, error) {
	m.mu.RLock()
	recs := make([]StreamRecord, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Name < recs[j].Name
	})
	return recs, nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) apply(staged ops) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hook != nil {
		var puts []StreamRecord
		var deletes []string
		for _, o := range staged {
			switch o.kind {
			case opPut:
				puts = append(puts, o.rec)
			case opDelete:
				deletes = append(deletes, o.name)
			}
		}
		if err := m.hook(puts, deletes); err != nil {
			return err
		}
	}
	for _, o := range staged {
		switch o.kind {
		case opPut:
			m.records[o.name] = o.rec
		case opDelete:
			delete(m.records, o.name)
		}
	}
	m.commits++
	return nil
}

type memoryTx struct {
	ops
	store     *Memory
	committed bool
}

func (tx *memoryTx) Commit() *async.Future[struct{}] {
	if tx.committed {
		return async.Failed[struct{}](ErrTxDone)
	}
	tx.committed = true
	staged := tx.ops
	f := async.NewFuture[struct{}]()
	go func() {
		if err := tx.store.apply(staged); err != nil {
			f.Fail(err)
			return
		}
		f.Set(struct{}{})
	}()
	return f
}
