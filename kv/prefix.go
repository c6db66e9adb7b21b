package kv

import (
	"bytes"
	"encoding/binary"
)

// FlatTx is a transaction over a flat (bucketless) ordered keyspace.
// PrefixBucket turns it into buckets.
type FlatTx interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error

	// ForEach visits all keys starting with prefix in order.
	ForEach(prefix []byte, fn func(k, v []byte) error) error
}

// BucketPrefix returns the key prefix used for bucket name in flat engines:
// uvarint name length, then the name. The length makes sure that no bucket's
// prefix is a prefix of another bucket's.
func BucketPrefix(name string) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(name))
	buf = binary.AppendUvarint(buf, uint64(len(name)))
	return append(buf, name...)
}

// PrefixBucket returns a Bucket that stores its keys in tx under
// BucketPrefix(name).
func PrefixBucket(tx FlatTx, name string, writable bool) Bucket {
	return &prefixBucket{
		tx:       tx,
		prefix:   BucketPrefix(name),
		writable: writable,
	}
}

type prefixBucket struct {
	tx       FlatTx
	prefix   []byte
	writable bool
}

func (b *prefixBucket) fullKey(key []byte) []byte {
	buf := make([]byte, 0, len(b.prefix)+len(key))
	buf = append(buf, b.prefix...)
	return append(buf, key...)
}

func (b *prefixBucket) Get(key []byte) ([]byte, error) {
	return b.tx.Get(b.fullKey(key))
}

func (b *prefixBucket) Put(key, value []byte) error {
	if !b.writable {
		return ErrTxNotWritable
	}
	if len(key) == 0 {
		return ErrKeyRequired
	}
	return b.tx.Set(b.fullKey(key), value)
}

func (b *prefixBucket) Delete(key []byte) error {
	if !b.writable {
		return ErrTxNotWritable
	}
	return b.tx.Delete(b.fullKey(key))
}

func (b *prefixBucket) ForEach(prefix []byte, fn func(k, v []byte) error) error {
	n := len(b.prefix)
	err := b.tx.ForEach(b.fullKey(prefix), func(k, v []byte) error {
		if !bytes.HasPrefix(k, b.prefix) {
			return Break
		}
		return fn(k[n:], v)
	})
	if err == Break {
		return nil
	}
	return err
}

func (b *prefixBucket) Len() (int, error) {
	var n int
	err := b.ForEach(nil, func(k, v []byte) error {
		n++
		return nil
	})
	return n, err
}
