package structdb

import (
	"math"

	"github.com/tarantool/go-option"

	"github.com/andreyvit/structdb/watch"
)

// generateWatcherID hands out ids 0, 1, 2, ... and fails once the counter
// reaches math.MaxUint64. The counter stays saturated afterwards, so an id is
// never handed out twice.
func (db *DB) generateWatcherID() (uint64, error) {
	for {
		id := db.nextWatcherID.Load()
		if id == math.MaxUint64 {
			return 0, ErrWatcherLimit
		}
		if db.nextWatcherID.CompareAndSwap(id, id+1) {
			return id, nil
		}
	}
}

func (db *DB) watchGeneric(filter watch.TableFilter) (*watch.Receiver, uint64, error) {
	id, err := db.generateWatcherID()
	if err != nil {
		return nil, 0, err
	}
	sender, receiver := watch.NewChannel()
	db.watchers.Add(id, filter, sender)
	if db.verbose {
		db.logf("db: WATCH #%d %v", id, filter)
	}
	return receiver, id, nil
}

// Unwatch stops delivery to the watcher with the given id. The receiver gets
// the events already queued and then watch.ErrDisconnected. Unknown ids are
// ignored, so Unwatch may be called more than once.
func (db *DB) Unwatch(id uint64) {
	if db.watchers.Remove(id) && db.verbose {
		db.logf("db: UNWATCH #%d", id)
	}
}

// WatcherCount returns the number of registered watchers.
func (db *DB) WatcherCount() int {
	return db.watchers.Len()
}

// PrimaryWatch watches all of T's table when key is None, or the item with the
// given primary key otherwise.
func PrimaryWatch[T any, P itemPtr[T]](db *DB, key option.Generic[[]byte]) (*watch.Receiver, uint64, error) {
	key = copyKey(key)
	return db.watchGeneric(watch.NewPrimary(schemaOf[T, P]().TableName, key))
}

// PrimaryWatchStartWith watches the items of T whose primary key starts with
// prefix.
func PrimaryWatchStartWith[T any, P itemPtr[T]](db *DB, prefix []byte) (*watch.Receiver, uint64, error) {
	return db.watchGeneric(watch.NewPrimaryStartWith(schemaOf[T, P]().TableName, bytesCopy(prefix)))
}

// SecondaryWatch watches the items of T that have a key in index def (key is
// None) or have exactly the given key there.
func SecondaryWatch[T any, P itemPtr[T]](db *DB, def KeyDefinition, key option.Generic[[]byte]) (*watch.Receiver, uint64, error) {
	key = copyKey(key)
	return db.watchGeneric(watch.NewSecondary(schemaOf[T, P]().TableName, def.SecondaryTableName(), key))
}

func SecondaryWatchStartWith[T any, P itemPtr[T]](db *DB, def KeyDefinition, prefix []byte) (*watch.Receiver, uint64, error) {
	return db.watchGeneric(watch.NewSecondaryStartWith(schemaOf[T, P]().TableName, def.SecondaryTableName(), bytesCopy(prefix)))
}

func bytesCopy(b []byte) []byte {
	return append([]byte{}, b...)
}

func copyKey(key option.Generic[[]byte]) option.Generic[[]byte] {
	if key.IsSome() {
		return option.Some(bytesCopy(key.UnwrapOr(nil)))
	}
	return key
}
