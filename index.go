package structdb

import (
	"github.com/andreyvit/structdb/kv"
)

// Secondary tables are multimaps: every item contributes one entry per index
// it has a key in, keyed by the tuple (secondaryKey, primaryKey) with the
// primary key as the value.
//
// The secondary key is escaped (0x00 becomes 0x00 0xFF) and terminated by
// 0x00 0x01, so entries of different items never collide and sort by
// secondary key first, then by primary key. Escaping keeps prefixes, so the
// escaped form of a prefix selects exactly the entries whose secondary key
// starts with it.

const (
	escByte  = 0x00
	escZero  = 0xFF
	escTerm  = 0x01
	termSize = 2
)

func appendEscaped(buf, sk []byte) []byte {
	for _, c := range sk {
		if c == escByte {
			buf = append(buf, escByte, escZero)
		} else {
			buf = append(buf, c)
		}
	}
	return buf
}

func escapedLen(sk []byte) int {
	n := len(sk)
	for _, c := range sk {
		if c == escByte {
			n++
		}
	}
	return n
}

// secondaryKeyPrefix returns the leading bytes shared by all entries whose
// secondary key equals sk (exact) or starts with it.
func secondaryKeyPrefix(sk []byte, exact bool) []byte {
	buf := make([]byte, 0, escapedLen(sk)+termSize)
	buf = appendEscaped(buf, sk)
	if exact {
		buf = append(buf, escByte, escTerm)
	}
	return buf
}

func secondaryEntryKey(sk, pk []byte) []byte {
	buf := make([]byte, 0, escapedLen(sk)+termSize+len(pk))
	buf = appendEscaped(buf, sk)
	buf = append(buf, escByte, escTerm)
	return append(buf, pk...)
}

// splitSecondaryEntry decodes the secondary key of entry k holding primary
// key v. Returns false for a malformed entry.
func splitSecondaryEntry(k, v []byte) ([]byte, bool) {
	sk := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c != escByte {
			sk = append(sk, c)
			continue
		}
		if i+1 >= len(k) {
			return nil, false
		}
		i++
		switch k[i] {
		case escZero:
			sk = append(sk, escByte)
		case escTerm:
			if string(k[i+1:]) != string(v) {
				return nil, false
			}
			return sk, true
		default:
			return nil, false
		}
	}
	return nil, false
}

// secondaryKeys computes the keys item has in each index of its schema.
// Indexes the item does not participate in are absent from the result.
func secondaryKeys(item Item, s Schema) (map[string][]byte, error) {
	if len(s.SecondaryKeys) == 0 {
		return nil, nil
	}
	result := make(map[string][]byte, len(s.SecondaryKeys))
	for _, def := range s.SecondaryKeys {
		sk, err := item.SecondaryKey(def)
		if err != nil {
			return nil, tableErrf(s.TableName, def.SecondaryTableName(), nil, err, "computing secondary key")
		}
		if sk != nil {
			result[def.SecondaryTableName()] = append([]byte{}, sk...)
		}
	}
	return result, nil
}

// putIndexEntries writes the secondary entries for an item stored under pk.
func (t *Tables) putIndexEntries(s Schema, pk []byte, sks map[string][]byte) error {
	for index, sk := range sks {
		b, err := t.txn.bucket(index)
		if err != nil {
			return err
		}
		err = b.Put(secondaryEntryKey(sk, pk), pk)
		if err != nil {
			return tableErrf(s.TableName, index, sk, err, "adding index entry")
		}
	}
	return nil
}

func (t *Tables) deleteIndexEntries(s Schema, pk []byte, sks map[string][]byte) error {
	for index, sk := range sks {
		b, err := t.txn.bucket(index)
		if err != nil {
			return err
		}
		err = b.Delete(secondaryEntryKey(sk, pk))
		if err != nil {
			return tableErrf(s.TableName, index, sk, err, "deleting index entry")
		}
	}
	return nil
}

// forEachIndexEntry calls fn with the primary key of every entry whose
// secondary key equals key (exact) or starts with it (prefix), ordered by
// secondary key and then primary key.
func forEachIndexEntry(b kv.Bucket, key []byte, prefix bool, fn func(sk, pk []byte) error) error {
	if b == nil {
		return nil
	}
	return b.ForEach(secondaryKeyPrefix(key, !prefix), func(k, v []byte) error {
		sk, ok := splitSecondaryEntry(k, v)
		if !ok {
			return nil
		}
		return fn(sk, v)
	})
}
