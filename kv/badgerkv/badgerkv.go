// Package badgerkv implements kv.Engine on top of Badger.
package badgerkv

import (
	"os"
	"sync"

	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"

	"github.com/andreyvit/structdb/kv"
)

type Options struct {
	Logger     *log.Logger
	SyncWrites bool
}

// Engine serializes writers with a mutex; Badger would otherwise fail one of
// two overlapping writers with ErrConflict at commit time.
type Engine struct {
	mutex sync.Mutex
	db    *badger.DB
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

	bopts := badger.DefaultOptions(dataDir)
	bopts = bopts.WithLogger(logger)
	bopts = bopts.WithSyncWrites(opt.SyncWrites)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Badger() *badger.DB {
	return e.db
}

func (e *Engine) Begin(writable bool) (kv.Tx, error) {
	if writable {
		e.mutex.Lock()
	}
	return &Tx{
		engine:   e,
		txn:      e.db.NewTransaction(writable),
		writable: writable,
	}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

type Tx struct {
	engine   *Engine
	txn      *badger.Txn
	writable bool
	done     bool
}

func (tx *Tx) Writable() bool { return tx.writable }

func (tx *Tx) Bucket(name string) (kv.Bucket, error) {
	if tx.done {
		return nil, kv.ErrTxClosed
	}
	return kv.PrefixBucket(tx, name, tx.writable), nil
}

func (tx *Tx) Get(key []byte) ([]byte, error) {
	item, err := tx.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (tx *Tx) Set(key, value []byte) error {
	// Badger keeps references to pending writes until commit
	return tx.txn.Set(append([]byte(nil), key...), append([]byte{}, value...))
}

func (tx *Tx) Delete(key []byte) error {
	return tx.txn.Delete(append([]byte(nil), key...))
}

func (tx *Tx) ForEach(prefix []byte, fn func(k, v []byte) error) error {
	it := tx.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), v); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) Commit() error {
	if tx.done {
		return kv.ErrTxClosed
	}
	if !tx.writable {
		return kv.ErrTxNotWritable
	}
	tx.done = true
	err := tx.txn.Commit()
	tx.engine.mutex.Unlock()
	return err
}

func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.txn.Discard()
	if tx.writable {
		tx.engine.mutex.Unlock()
	}
	return nil
}
