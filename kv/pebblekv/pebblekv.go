// Package pebblekv implements kv.Engine on top of Pebble.
//
// Writers use an indexed batch (so they can read their own writes) and are
// serialized by a mutex; readers use a Pebble snapshot.
package pebblekv

import (
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"

	"github.com/andreyvit/structdb/kv"
)

type Options struct {
	Logger *log.Logger
	Sync   bool
}

type Engine struct {
	mutex sync.Mutex
	db    *pebble.DB
	sync  bool
}

var _ kv.Engine = (*Engine)(nil)

func Open(dataDir string, opt Options) (*Engine, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}

	logger := opt.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	db, err := pebble.Open(dataDir, &pebble.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &Engine{db: db, sync: opt.Sync}, nil
}

func (e *Engine) Begin(writable bool) (kv.Tx, error) {
	if writable {
		e.mutex.Lock()
		return &writeTx{
			engine: e,
			batch:  e.db.NewIndexedBatch(),
		}, nil
	}
	return &readTx{snap: e.db.NewSnapshot()}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// reader is the common part of pebble.Batch and pebble.Snapshot we use.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) *pebble.Iterator
}

func get(r reader, key []byte) ([]byte, error) {
	val, closer, err := r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte{}, val...), nil
}

func forEach(r reader, prefix []byte, fn func(k, v []byte) error) error {
	it := r.NewIter(&pebble.IterOptions{LowerBound: prefix})
	defer it.Close()

	for valid := it.SeekGE(prefix); valid; valid = it.Next() {
		k := it.Key()
		if !hasPrefix(k, prefix) {
			break
		}
		if err := fn(k, it.Value()); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}

type readTx struct {
	snap *pebble.Snapshot
	done bool
}

func (tx *readTx) Writable() bool { return false }

func (tx *readTx) Bucket(name string) (kv.Bucket, error) {
	if tx.done {
		return nil, kv.ErrTxClosed
	}
	return kv.PrefixBucket(tx, name, false), nil
}

func (tx *readTx) Get(key []byte) ([]byte, error) { return get(tx.snap, key) }

func (tx *readTx) Set(key, value []byte) error { return kv.ErrTxNotWritable }

func (tx *readTx) Delete(key []byte) error { return kv.ErrTxNotWritable }

func (tx *readTx) ForEach(prefix []byte, fn func(k, v []byte) error) error {
	return forEach(tx.snap, prefix, fn)
}

func (tx *readTx) Commit() error { return kv.ErrTxNotWritable }

func (tx *readTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.snap.Close()
}

type writeTx struct {
	engine *Engine
	batch  *pebble.Batch
	done   bool
}

func (tx *writeTx) Writable() bool { return true }

func (tx *writeTx) Bucket(name string) (kv.Bucket, error) {
	if tx.done {
		return nil, kv.ErrTxClosed
	}
	return kv.PrefixBucket(tx, name, true), nil
}

func (tx *writeTx) Get(key []byte) ([]byte, error) { return get(tx.batch, key) }

func (tx *writeTx) Set(key, value []byte) error { return tx.batch.Set(key, value, nil) }

func (tx *writeTx) Delete(key []byte) error { return tx.batch.Delete(key, nil) }

func (tx *writeTx) ForEach(prefix []byte, fn func(k, v []byte) error) error {
	return forEach(tx.batch, prefix, fn)
}

func (tx *writeTx) Commit() error {
	if tx.done {
		return kv.ErrTxClosed
	}
	tx.done = true
	opt := pebble.NoSync
	if tx.engine.sync {
		opt = pebble.Sync
	}
	err := tx.batch.Commit(opt)
	tx.batch.Close()
	tx.engine.mutex.Unlock()
	return err
}

func (tx *writeTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	err := tx.batch.Close()
	tx.engine.mutex.Unlock()
	return err
}
