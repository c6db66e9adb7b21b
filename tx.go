package structdb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andreyvit/structdb/kv"
	"github.com/andreyvit/structdb/watch"
)

// txCore is the part shared by write and read-only transactions.
type txCore struct {
	db      *DB
	ktx     kv.Tx
	buckets map[string]kv.Bucket
	closed  bool
}

// bucket returns the engine bucket for a registered table. In read-only
// transactions the result is nil if nothing was ever written to the table.
func (tx *txCore) bucket(name string) (kv.Bucket, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	if b, ok := tx.buckets[name]; ok {
		return b, nil
	}
	def, ok := tx.db.schema.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDefined, name)
	}
	b, err := tx.ktx.Bucket(def.bucket)
	if err != nil {
		return nil, tableErrf(name, "", nil, err, "opening bucket")
	}
	tx.buckets[name] = b
	return b, nil
}

// Transaction is a write transaction. Mutations made through Tables are
// applied by Commit; closing the transaction without committing discards them
// together with their pending watch events.
type Transaction struct {
	txCore
	batch watch.Batch
}

func (txn *Transaction) Tables() *Tables {
	return &Tables{txn: txn}
}

// Commit durably applies the transaction, then delivers its events to
// matching watchers in the order the mutations were made. If the engine
// fails to commit, no event is delivered.
func (txn *Transaction) Commit() error {
	if txn.closed {
		return ErrTxClosed
	}
	db := txn.db
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	txn.closed = true
	defer db.WriterCount.Add(-1)

	err := txn.ktx.Commit()
	if err != nil {
		txn.batch.Reset()
		txn.ktx.Rollback()
		return fmt.Errorf("structdb: commit: %w", err)
	}

	events := txn.batch.Len()
	sent := db.watchers.Flush(&txn.batch)
	if db.verbose {
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "db: COMMIT", slog.Int("events", events), slog.Int("sent", sent))
	}
	return nil
}

// Close aborts the transaction unless it has been committed. It is safe to
// call multiple times, and is typically deferred right after beginning.
func (txn *Transaction) Close() {
	if txn.closed {
		return
	}
	txn.closed = true
	txn.db.WriterCount.Add(-1)
	txn.batch.Reset()
	err := txn.ktx.Rollback()
	if err != nil {
		txn.db.logger.Warn("db: rollback failed", "err", err)
	} else if txn.db.verbose {
		txn.db.logf("db: ROLLBACK")
	}
}

// ReadOnlyTransaction reads a consistent snapshot of the database. It has no
// way to mutate data.
type ReadOnlyTransaction struct {
	txCore
}

func (txn *ReadOnlyTransaction) Tables() *ReadOnlyTables {
	return &ReadOnlyTables{txn: txn}
}

func (txn *ReadOnlyTransaction) Close() {
	if txn.closed {
		return
	}
	txn.closed = true
	txn.db.ReaderCount.Add(-1)
	err := txn.ktx.Rollback()
	if err != nil {
		txn.db.logger.Warn("db: closing read tx failed", "err", err)
	}
}
