package store

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/freeconf/broker/async"
)

// FsyncMode defines durability behavior for commits
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every commit
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval
	FsyncModeInterval
	// FsyncModeNever leaves syncing entirely to Pebble
	FsyncModeNever
)

// PebbleOptions configures a Pebble backed store
type PebbleOptions struct {
	// DataDir is the path to the Pebble database directory
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval
	FsyncInterval time.Duration
	// InMemory keeps everything in memory, handy for tests
	InMemory bool
}

// Pebble is a Store persisting records in a Pebble database. Commits are
// durable but streams are not, see Purge for what to do at startup.
type Pebble struct {
	inner     *pebble.DB
	writeSync bool
}

func OpenPebble(opts PebbleOptions) (*Pebble, error) {
	if opts.DataDir == "" && !opts.InMemory {
		return nil, errors.New("pebble: PebbleOptions.DataDir is required")
	}
	po := &pebble.Options{}
	if opts.InMemory {
		po.FS = vfs.NewMem()
		if opts.DataDir == "" {
			opts.DataDir = "streams"
		}
	}
	switch opts.Fsync {
	case FsyncModeAlways:
		// sync is requested per commit
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		interval := opts.FsyncInterval
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}
	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	return &Pebble{
		inner:     inner,
		writeSync: opts.Fsync == FsyncModeAlways,
	}, nil
}

func (db *Pebble) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func (db *Pebble) NewWriteTx() WriteTx {
	return &pebbleTx{db: db}
}

// Get reads one record, found is false if there is none
func (db *Pebble) Get(name string) (rec StreamRecord, found bool, err error) {
	data, closer, err := db.inner.Get([]byte(Key(name)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return rec, false, nil
		}
		return rec, false, err
	}
	defer closer.Close()
	rec, err = Decode(data)
	return rec, err == nil, err
}

func (db *Pebble) List(ctx context.Context) ([]StreamRecord, error) {
	prefix := []byte(StreamsPath + "=")
	iter, err := db.inner.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var recs []StreamRecord
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := Decode(iter.Value())
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, iter.Error()
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type pebbleTx struct {
	ops
	db        *Pebble
	committed bool
}

func (tx *pebbleTx) Commit() *async.Future[struct{}] {
	if tx.committed {
		return async.Failed[struct{}](ErrTxDone)
	}
	tx.committed = true
	b := tx.db.inner.NewBatch()
	for _, o := range tx.ops {
		var err error
		switch o.kind {
		case opPut:
			var data []byte
			if data, err = Encode(o.rec); err == nil {
				err = b.Set([]byte(Key(o.name)), data, nil)
			}
		case opDelete:
			err = b.Delete([]byte(Key(o.name)), nil)
		}
		if err != nil {
			b.Close()
			return async.Failed[struct{}](err)
		}
	}
	syncMode := pebble.NoSync
	if tx.db.writeSync {
		syncMode = pebble.Sync
	}
	f := async.NewFuture[struct{}]()
	go func() {
		defer b.Close()
		if err := b.Commit(syncMode); err != nil {
			f.Fail(err)
			return
		}
		f.Set(struct{}{})
	}()
	return f
}
