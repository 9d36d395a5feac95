// Package store keeps the durable mirror of active streams, the
// restconf-state/streams list of RFC8040 9.3, behind a transactional write
// interface.
package store

import (
	"context"
	"errors"

	"github.com/freeconf/broker/async"
)

// StreamsPath is the operational-state root every stream record lives under
const StreamsPath = "restconf-state/streams/stream"

// Key of a stream record
func Key(name string) string {
	return StreamsPath + "=" + name
}

// Access is one way to reach a stream
type Access struct {
	Encoding string `json:"encoding"`
	Location string `json:"location"`
}

// StreamRecord is the persisted form of a stream. Records are written once
// and deleted once, never updated.
type StreamRecord struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Access      []Access `json:"access"`
}

// Store holds stream records
type Store interface {
	NewWriteTx() WriteTx

	// List returns all records ordered by name
	List(ctx context.Context) ([]StreamRecord, error)

	Close() error
}

// WriteTx stages puts and deletes until Commit applies them atomically.
// A transaction is committed at most once.
type WriteTx interface {
	Put(rec StreamRecord)
	Delete(name string)

	// Commit applies staged writes off the calling goroutine and settles
	// the returned future with the outcome.
	Commit() *async.Future[struct{}]
}

var ErrTxDone = errors.New("transaction already committed")

type opKind int

const (
	opPut opKind = iota
	opDelete
)

type op struct {
	kind opKind
	name string
	rec  StreamRecord
}

type ops []op

func (o *ops) Put(rec StreamRecord) {
	*o = append(*o, op{kind: opPut, name: rec.Name, rec: rec})
}

func (o *ops) Delete(name string) {
	*o = append(*o, op{kind: opDelete, name: name})
}

// Purge deletes every record in one transaction and reports how many there
// were. Records only describe streams of a running process, so whatever a
// durable store still holds at startup belongs to a process that is gone.
func Purge(ctx context.Context, st Store) (int, error) {
	recs, err := st.List(ctx)
	if err != nil || len(recs) == 0 {
		return 0, err
	}
	tx := st.NewWriteTx()
	for _, rec := range recs {
		tx.Delete(rec.Name)
	}
	if _, err := tx.Commit().Await(ctx); err != nil {
		return 0, err
	}
	return len(recs), nil
}
