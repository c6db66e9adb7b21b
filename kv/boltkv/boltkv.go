// Package boltkv implements kv.Engine on top of Bolt.
package boltkv

import (
	"bytes"
	"errors"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"

	"github.com/andreyvit/structdb/kv"
)

type Options struct {
	// IsTesting trades durability for speed: no fsync, small initial mmap.
	IsTesting bool
	MmapSize  int
	Timeout   time.Duration
}

type Engine struct {
	bdb *bbolt.DB
}

var _ kv.Engine = (*Engine)(nil)

func Open(path string, opt Options) (*Engine, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, err
	}
	return &Engine{bdb: bdb}, nil
}

func (e *Engine) Bolt() *bbolt.DB {
	return e.bdb
}

func (e *Engine) Begin(writable bool) (kv.Tx, error) {
	btx, err := e.bdb.Begin(writable)
	if err != nil {
		if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
			return nil, kv.ErrClosed
		}
		return nil, err
	}
	return &Tx{btx: btx}, nil
}

func (e *Engine) Close() error {
	return e.bdb.Close()
}

type Tx struct {
	btx *bbolt.Tx
}

func (tx *Tx) BoltTx() *bbolt.Tx { return tx.btx }

func (tx *Tx) Writable() bool { return tx.btx.Writable() }

func (tx *Tx) Bucket(name string) (kv.Bucket, error) {
	if tx.btx.Writable() {
		b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return nil, translate(err)
		}
		return bucket{b: b}, nil
	}
	b := tx.btx.Bucket(unsafeBytesFromString(name))
	if b == nil {
		return nil, nil
	}
	return bucket{b: b}, nil
}

func (tx *Tx) Commit() error {
	return translate(tx.btx.Commit())
}

func (tx *Tx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type bucket struct {
	b *bbolt.Bucket
}

func (b bucket) Get(key []byte) ([]byte, error) { return b.b.Get(key), nil }

func (b bucket) Put(key, value []byte) error { return translate(b.b.Put(key, value)) }

func (b bucket) Delete(key []byte) error { return translate(b.b.Delete(key)) }

func (b bucket) ForEach(prefix []byte, fn func(k, v []byte) error) error {
	c := b.b.Cursor()
	var k, v []byte
	if len(prefix) == 0 {
		k, v = c.First()
	} else {
		k, v = c.Seek(prefix)
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			if err == kv.Break {
				return nil
			}
			return err
		}
	}
	return nil
}

// Len walks a cursor; Bucket.Stats does not see the writes of the current
// transaction.
func (b bucket) Len() (int, error) {
	var n int
	c := b.b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n, nil
}

func translate(err error) error {
	switch err {
	case bbolt.ErrTxNotWritable:
		return kv.ErrTxNotWritable
	case bbolt.ErrTxClosed:
		return kv.ErrTxClosed
	case bbolt.ErrKeyRequired:
		return kv.ErrKeyRequired
	default:
		return err
	}
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
