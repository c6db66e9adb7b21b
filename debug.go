package structdb

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andreyvit/structdb/codec"
	"github.com/andreyvit/structdb/kv"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpIndices
	DumpIndexRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of every defined table for debugging. Payloads
// are shown as JSON when they decode as MsgPack, and as hex otherwise.
func (txn *ReadOnlyTransaction) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	for _, s := range txn.db.schema.primarySchemas() {
		err := txn.dumpTable(&buf, f, s)
		if err != nil {
			return buf.String(), err
		}
	}
	return buf.String(), nil
}

func (txn *ReadOnlyTransaction) dumpTable(w *strings.Builder, f DumpFlags, s Schema) error {
	prefix := s.TableName
	if f.Contains(DumpTableHeaders) {
		b, err := txn.bucket(s.TableName)
		if err != nil {
			return err
		}
		n, err := kv.Len(b)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d rows)\n", prefix, n)
	}
	if f.Contains(DumpStats) {
		ts, err := txn.TableStats(s)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s.stats: rows = %d, index_rows = %d, data_size = %d, index_size = %d\n", prefix, ts.Rows, ts.IndexRows, ts.DataSize, ts.IndexSize)
	}

	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		b, err := txn.bucket(s.TableName)
		if err != nil {
			return err
		}
		var rowPos int
		err = forEachRaw(b, func(k, v []byte) error {
			rowPos++
			fmt.Fprintf(w, "%s.%d: %s = %s\n", prefix, rowPos, hexstr(k), loggablePayload(v))
			return nil
		})
		if err != nil {
			return err
		}
	}

	if f.Contains(DumpIndices) {
		for _, index := range s.SecondaryTableNames() {
			fmt.Fprintln(w, dumpSep2)
			fmt.Fprintf(w, "%s.i.%s\n", prefix, index)
			if !f.Contains(DumpIndexRows) {
				continue
			}
			b, err := txn.bucket(index)
			if err != nil {
				return err
			}
			var rowPos int
			err = forEachIndexEntry(b, nil, true, func(sk, pk []byte) error {
				rowPos++
				fmt.Fprintf(w, "%s.i.%s.%d: %s => %s\n", prefix, index, rowPos, hexstr(sk), hexstr(pk))
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func forEachRaw(b kv.Bucket, fn func(k, v []byte) error) error {
	if b == nil {
		return nil
	}
	return b.ForEach(nil, fn)
}

func loggablePayload(v []byte) string {
	var decoded any
	if err := codec.Unmarshal(v, &decoded); err != nil {
		return hexstr(v)
	}
	data, err := json.Marshal(decoded)
	if err != nil {
		return hexstr(v)
	}
	return string(data)
}
