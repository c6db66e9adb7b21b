// Package kv defines the ordered key-value engine contract that structdb is
// built on, plus helpers shared by the engine implementations.
//
// An engine provides named buckets (sorted byte-keyed collections), serializable
// write transactions with atomic durable commit, and read-only transactions that
// observe a consistent snapshot. Bolt supports buckets natively; flat engines
// (Badger, Pebble, the in-memory B-tree) simulate them via key prefixes, see
// PrefixBucket.
package kv

import "errors"

var (
	// ErrTxNotWritable is returned when mutating through a read-only transaction.
	ErrTxNotWritable = errors.New("kv: tx not writable")

	// ErrTxClosed is returned when using a transaction after Commit or Rollback.
	ErrTxClosed = errors.New("kv: tx closed")

	// ErrKeyRequired is returned when putting an empty key.
	ErrKeyRequired = errors.New("kv: key required")

	// ErrClosed is returned by Begin after the engine has been closed.
	ErrClosed = errors.New("kv: engine closed")
)

// Break can be returned from a ForEach callback to stop iteration early
// without failing it.
var Break = errors.New("break")

// Engine is an embedded, ordered, byte-keyed storage engine.
type Engine interface {
	// Begin starts a new transaction. At most one writable transaction is
	// active at a time; Begin(true) blocks until the previous writer is done.
	Begin(writable bool) (Tx, error)

	// Close releases the engine. Transactions must be closed first.
	Close() error
}

// Tx is an engine transaction.
type Tx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns the named bucket. Writable transactions create it on
	// demand; read-only transactions return nil for a bucket that has never
	// been created.
	Bucket(name string) (Bucket, error)

	// Commit atomically and durably applies the transaction's writes.
	Commit() error

	// Rollback discards the transaction. It is safe to call after Commit and
	// multiple times.
	Rollback() error
}

// Bucket is a sorted key-value collection inside a transaction.
type Bucket interface {
	// Get returns the value for key, or nil if the key is unset. The result is
	// only valid until the transaction ends.
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair, replacing any previous value.
	Put(key, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// ForEach calls fn for every pair whose key starts with prefix, in key
	// order. Returning Break stops iteration and ForEach returns nil; any other
	// error is returned as is. fn must not mutate the bucket, and k and v are
	// only valid during the call.
	ForEach(prefix []byte, fn func(k, v []byte) error) error

	// Len returns the number of keys in the bucket.
	Len() (int, error)
}

// Len is a helper returning the number of keys in a possibly nil bucket.
func Len(b Bucket) (int, error) {
	if b == nil {
		return 0, nil
	}
	return b.Len()
}
