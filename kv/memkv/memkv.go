// Package memkv implements a transient in-memory kv.Engine on a copy-on-write
// B-tree. Every transaction works on a lazy clone of the committed tree, so
// readers see a stable snapshot and a writer's changes become visible
// atomically when Commit swaps the tree in.
package memkv

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/andreyvit/structdb/kv"
)

const degree = 16

type Engine struct {
	treeMutex   sync.Mutex
	updateMutex sync.Mutex
	tree        *btree.BTree
	closed      bool
}

var _ kv.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{
		tree: btree.New(degree),
	}
}

type item struct {
	key []byte
	val []byte
}

func (it item) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(item).key) < 0
}

func (e *Engine) Begin(writable bool) (kv.Tx, error) {
	if writable {
		e.updateMutex.Lock()
	}

	e.treeMutex.Lock()
	if e.closed {
		e.treeMutex.Unlock()
		if writable {
			e.updateMutex.Unlock()
		}
		return nil, kv.ErrClosed
	}
	tree := e.tree.Clone()
	e.treeMutex.Unlock()

	return &Tx{
		engine:   e,
		tree:     tree,
		writable: writable,
	}, nil
}

func (e *Engine) Close() error {
	e.treeMutex.Lock()
	defer e.treeMutex.Unlock()
	e.closed = true
	return nil
}

type Tx struct {
	engine   *Engine
	tree     *btree.BTree
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
	if tx.done {
		return nil, kv.ErrTxClosed
	}
	found := tx.tree.Get(item{key: key})
	if found == nil {
		return nil, nil
	}
	return found.(item).val, nil
}

func (tx *Tx) Set(key, value []byte) error {
	if tx.done {
		return kv.ErrTxClosed
	}
	// the tree outlives the caller's buffers
	tx.tree.ReplaceOrInsert(item{
		key: append([]byte(nil), key...),
		val: append([]byte{}, value...),
	})
	return nil
}

func (tx *Tx) Delete(key []byte) error {
	if tx.done {
		return kv.ErrTxClosed
	}
	tx.tree.Delete(item{key: key})
	return nil
}

func (tx *Tx) ForEach(prefix []byte, fn func(k, v []byte) error) error {
	if tx.done {
		return kv.ErrTxClosed
	}
	var err error
	tx.tree.AscendGreaterOrEqual(item{key: prefix}, func(i btree.Item) bool {
		it := i.(item)
		if !bytes.HasPrefix(it.key, prefix) {
			return false
		}
		err = fn(it.key, it.val)
		return err == nil
	})
	return err
}

func (tx *Tx) Commit() error {
	if tx.done {
		return kv.ErrTxClosed
	}
	if !tx.writable {
		return kv.ErrTxNotWritable
	}
	tx.done = true

	tx.engine.treeMutex.Lock()
	tx.engine.tree = tx.tree
	tx.engine.treeMutex.Unlock()

	tx.engine.updateMutex.Unlock()
	return nil
}

func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if tx.writable {
		tx.engine.updateMutex.Unlock()
	}
	return nil
}
