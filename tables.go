package structdb

import (
	"bytes"
	"context"
	"iter"
	"log/slog"

	"github.com/andreyvit/structdb/codec"
	"github.com/andreyvit/structdb/kv"
	"github.com/andreyvit/structdb/watch"
)

// Reader is implemented by Tables and ReadOnlyTables and accepted by the
// generic read functions (PrimaryGet, Len, Scan and friends).
type Reader interface {
	reader() *txCore
}

// Tables gives access to the tables of a write transaction.
type Tables struct {
	txn *Transaction
}

func (t *Tables) reader() *txCore {
	return &t.txn.txCore
}

// ReadOnlyTables gives access to the tables of a read-only transaction.
type ReadOnlyTables struct {
	txn *ReadOnlyTransaction
}

func (t *ReadOnlyTables) reader() *txCore {
	return &t.txn.txCore
}

// storedItem is an item as currently persisted in its primary table.
type storedItem struct {
	value []byte
	sks   map[string][]byte
}

// loadStored reads the item stored under pk, decoding it as the same type as
// like to compute its current secondary keys. Returns nil if pk is unset.
func (t *Tables) loadStored(primary kv.Bucket, s Schema, pk []byte, like Item) (*storedItem, error) {
	raw, err := primary.Get(pk)
	if err != nil {
		return nil, tableErrf(s.TableName, "", pk, err, "reading")
	}
	if raw == nil {
		return nil, nil
	}
	stored := &storedItem{value: bytes.Clone(raw)}
	if len(s.SecondaryKeys) > 0 {
		ptr, asItem := newItemLike(like)
		err = codec.Unmarshal(stored.value, ptr)
		if err != nil {
			return nil, tableErrf(s.TableName, "", pk, err, "decoding stored item")
		}
		stored.sks, err = secondaryKeys(asItem(), s)
		if err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// Insert stores item under its primary key, replacing any item already stored
// there, and indexes it.
func (t *Tables) Insert(item Item) error {
	s := item.DBSchema()
	primary, err := t.txn.bucket(s.TableName)
	if err != nil {
		return err
	}
	pk, err := item.PrimaryKey()
	if err != nil {
		return tableErrf(s.TableName, "", nil, err, "computing primary key")
	}
	pk = bytes.Clone(pk)
	value, err := codec.Marshal(item)
	if err != nil {
		return tableErrf(s.TableName, "", pk, err, "encoding")
	}
	sks, err := secondaryKeys(item, s)
	if err != nil {
		return err
	}

	old, err := t.loadStored(primary, s, pk, item)
	if err != nil {
		return err
	}
	if old != nil {
		err = t.deleteIndexEntries(s, pk, old.sks)
		if err != nil {
			return err
		}
	}

	err = primary.Put(pk, value)
	if err != nil {
		return tableErrf(s.TableName, "", pk, err, "writing")
	}
	err = t.putIndexEntries(s, pk, sks)
	if err != nil {
		return err
	}

	if t.txn.db.verbose {
		t.logOp("db: INSERT", s.TableName, pk)
	}
	t.txn.batch.Add(watch.Insert{
		Table:         s.TableName,
		Key:           bytes.Clone(pk),
		Value:         value,
		SecondaryKeys: sks,
	})
	return nil
}

// Update replaces old with item. The two may have different primary keys, in
// which case the item moves: the entry under old's key is removed. An item
// already stored under the new key is overwritten and reported as deleted
// before the update.
//
// Index entries are removed based on what is actually stored under old's key,
// falling back to old itself if nothing is.
func (t *Tables) Update(old, item Item) error {
	s := item.DBSchema()
	if prev := old.DBSchema(); prev.TableName != s.TableName {
		return tableErrf(s.TableName, "", nil, nil, "cannot update item of table %s", prev.TableName)
	}
	primary, err := t.txn.bucket(s.TableName)
	if err != nil {
		return err
	}

	oldPK, err := old.PrimaryKey()
	if err != nil {
		return tableErrf(s.TableName, "", nil, err, "computing old primary key")
	}
	oldPK = bytes.Clone(oldPK)
	newPK, err := item.PrimaryKey()
	if err != nil {
		return tableErrf(s.TableName, "", nil, err, "computing new primary key")
	}
	newPK = bytes.Clone(newPK)
	newValue, err := codec.Marshal(item)
	if err != nil {
		return tableErrf(s.TableName, "", newPK, err, "encoding")
	}
	newSKs, err := secondaryKeys(item, s)
	if err != nil {
		return err
	}

	stored, err := t.loadStored(primary, s, oldPK, old)
	if err != nil {
		return err
	}
	if stored == nil {
		stored = &storedItem{}
		stored.value, err = codec.Marshal(old)
		if err != nil {
			return tableErrf(s.TableName, "", oldPK, err, "encoding old item")
		}
		stored.sks, err = secondaryKeys(old, s)
		if err != nil {
			return err
		}
	}
	err = t.deleteIndexEntries(s, oldPK, stored.sks)
	if err != nil {
		return err
	}

	if !bytes.Equal(oldPK, newPK) {
		err = primary.Delete(oldPK)
		if err != nil {
			return tableErrf(s.TableName, "", oldPK, err, "deleting")
		}
		// the target key may already hold an item that is about to be overwritten
		displaced, err := t.loadStored(primary, s, newPK, item)
		if err != nil {
			return err
		}
		if displaced != nil {
			err = t.deleteIndexEntries(s, newPK, displaced.sks)
			if err != nil {
				return err
			}
			if t.txn.db.verbose {
				t.logOp("db: UPDATE.DISPLACE", s.TableName, newPK)
			}
			t.txn.batch.Add(watch.Delete{
				Table:         s.TableName,
				Key:           bytes.Clone(newPK),
				Value:         displaced.value,
				SecondaryKeys: displaced.sks,
			})
		}
	}

	err = primary.Put(newPK, newValue)
	if err != nil {
		return tableErrf(s.TableName, "", newPK, err, "writing")
	}
	err = t.putIndexEntries(s, newPK, newSKs)
	if err != nil {
		return err
	}

	if t.txn.db.verbose {
		t.logOp("db: UPDATE", s.TableName, newPK, hexAttr("old", oldPK))
	}
	t.txn.batch.Add(watch.Update{
		Table:            s.TableName,
		OldKey:           bytes.Clone(oldPK),
		OldValue:         stored.value,
		OldSecondaryKeys: stored.sks,
		NewKey:           bytes.Clone(newPK),
		NewValue:         newValue,
		NewSecondaryKeys: newSKs,
	})
	return nil
}

// Remove deletes the item stored under item's primary key along with its
// index entries. Removing an item that is not stored does nothing and
// produces no event.
func (t *Tables) Remove(item Item) error {
	s := item.DBSchema()
	primary, err := t.txn.bucket(s.TableName)
	if err != nil {
		return err
	}
	pk, err := item.PrimaryKey()
	if err != nil {
		return tableErrf(s.TableName, "", nil, err, "computing primary key")
	}
	pk = bytes.Clone(pk)

	stored, err := t.loadStored(primary, s, pk, item)
	if err != nil {
		return err
	}
	if stored == nil {
		if t.txn.db.verbose {
			t.logOp("db: REMOVE.NOOP", s.TableName, pk)
		}
		return nil
	}

	err = t.deleteIndexEntries(s, pk, stored.sks)
	if err != nil {
		return err
	}
	err = primary.Delete(pk)
	if err != nil {
		return tableErrf(s.TableName, "", pk, err, "deleting")
	}

	if t.txn.db.verbose {
		t.logOp("db: REMOVE", s.TableName, pk)
	}
	t.txn.batch.Add(watch.Delete{
		Table:         s.TableName,
		Key:           bytes.Clone(pk),
		Value:         stored.value,
		SecondaryKeys: stored.sks,
	})
	return nil
}

func (t *Tables) logOp(msg, table string, pk []byte, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{slog.String("table", table), hexAttr("key", pk)}, attrs...)
	t.txn.db.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

// PrimaryGet returns the item stored under key, or nil if there is none.
func PrimaryGet[T any, P itemPtr[T]](r Reader, key []byte) (*T, error) {
	tx := r.reader()
	s := schemaOf[T, P]()
	primary, err := tx.bucket(s.TableName)
	if err != nil {
		return nil, err
	}
	row, err := getByPrimaryKey[T](primary, s, key)
	if tx.db.verbose {
		if row != nil {
			tx.db.logf("db: GET %s/%s", s.TableName, hexstr(key))
		} else if err == nil {
			tx.db.logf("db: GET.NOTFOUND %s/%s", s.TableName, hexstr(key))
		}
	}
	return row, err
}

func getByPrimaryKey[T any](primary kv.Bucket, s Schema, key []byte) (*T, error) {
	if primary == nil {
		return nil, nil
	}
	raw, err := primary.Get(key)
	if err != nil {
		return nil, tableErrf(s.TableName, "", key, err, "reading")
	}
	if raw == nil {
		return nil, nil
	}
	return decodeRow[T](s, key, raw)
}

func decodeRow[T any](s Schema, key, raw []byte) (*T, error) {
	row := new(T)
	err := codec.Unmarshal(raw, row)
	if err != nil {
		return nil, tableErrf(s.TableName, "", key, err, "decoding")
	}
	return row, nil
}

// Len returns the number of items in T's table.
func Len[T any, P itemPtr[T]](r Reader) (int, error) {
	tx := r.reader()
	s := schemaOf[T, P]()
	primary, err := tx.bucket(s.TableName)
	if err != nil {
		return 0, err
	}
	n, err := kv.Len(primary)
	if err != nil {
		return 0, tableErrf(s.TableName, "", nil, err, "counting")
	}
	return n, nil
}

// Scan iterates over the items whose primary key starts with prefix, in key
// order. A nil prefix visits the whole table. The transaction must not be
// mutated while iterating.
func Scan[T any, P itemPtr[T]](r Reader, prefix []byte) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		tx := r.reader()
		s := schemaOf[T, P]()
		primary, err := tx.bucket(s.TableName)
		if err != nil {
			yield(nil, err)
			return
		}
		if primary == nil {
			return
		}
		err = primary.ForEach(prefix, func(k, v []byte) error {
			row, err := decodeRow[T](s, k, v)
			if err != nil {
				return err
			}
			if !yield(row, nil) {
				return kv.Break
			}
			return nil
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

// All collects the items of a Scan or SecondaryScan, stopping at the first
// error.
func All[T any](seq iter.Seq2[*T, error]) ([]*T, error) {
	var result []*T
	for row, err := range seq {
		if err != nil {
			return result, err
		}
		result = append(result, row)
	}
	return result, nil
}

// SecondaryGet returns the item whose key in index def equals key. When
// several items share the key, the one with the smallest primary key is
// returned; use SecondaryGetAll to get all of them.
func SecondaryGet[T any, P itemPtr[T]](r Reader, def KeyDefinition, key []byte) (*T, error) {
	var found *T
	for row, err := range secondaryScan[T, P](r, def, key, false) {
		if err != nil {
			return nil, err
		}
		found = row
		break
	}
	return found, nil
}

func SecondaryGetAll[T any, P itemPtr[T]](r Reader, def KeyDefinition, key []byte) ([]*T, error) {
	return All(secondaryScan[T, P](r, def, key, false))
}

// SecondaryScan iterates over the items whose key in index def starts with
// prefix, ordered by that key and then by primary key.
func SecondaryScan[T any, P itemPtr[T]](r Reader, def KeyDefinition, prefix []byte) iter.Seq2[*T, error] {
	return secondaryScan[T, P](r, def, prefix, true)
}

func secondaryScan[T any, P itemPtr[T]](r Reader, def KeyDefinition, key []byte, prefix bool) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		tx := r.reader()
		s := schemaOf[T, P]()
		index := def.SecondaryTableName()
		primary, err := tx.bucket(s.TableName)
		if err != nil {
			yield(nil, err)
			return
		}
		secondary, err := tx.bucket(index)
		if err != nil {
			yield(nil, err)
			return
		}
		err = forEachIndexEntry(secondary, key, prefix, func(sk, pk []byte) error {
			row, err := getByPrimaryKey[T](primary, s, pk)
			if err != nil {
				return err
			}
			if row == nil {
				return tableErrf(s.TableName, index, sk, nil, "dangling index entry for %s", hexstr(pk))
			}
			if !yield(row, nil) {
				return kv.Break
			}
			return nil
		})
		if err != nil {
			yield(nil, err)
		}
	}
}
