package structdb

import (
	"github.com/andreyvit/structdb/kv"
)

type TableStats struct {
	Table     string
	Rows      int
	IndexRows int

	// DataSize and IndexSize are the total number of key and value bytes
	// stored in the primary and secondary tables.
	DataSize  int
	IndexSize int
}

func (ts *TableStats) TotalSize() int {
	return ts.DataSize + ts.IndexSize
}

// TableStats computes the statistics of the tables described by s. It scans
// every entry, so it is meant for tooling rather than hot paths.
func (txn *ReadOnlyTransaction) TableStats(s Schema) (TableStats, error) {
	result := TableStats{Table: s.TableName}
	b, err := txn.bucket(s.TableName)
	if err != nil {
		return result, err
	}
	result.Rows, result.DataSize, err = bucketStats(b)
	if err != nil {
		return result, tableErrf(s.TableName, "", nil, err, "stats")
	}

	for _, index := range s.SecondaryTableNames() {
		b, err := txn.bucket(index)
		if err != nil {
			return result, err
		}
		rows, size, err := bucketStats(b)
		if err != nil {
			return result, tableErrf(s.TableName, index, nil, err, "stats")
		}
		result.IndexRows += rows
		result.IndexSize += size
	}
	return result, nil
}

// Stats returns the statistics of every defined table, ordered by name.
func (txn *ReadOnlyTransaction) Stats() ([]TableStats, error) {
	var result []TableStats
	for _, s := range txn.db.schema.primarySchemas() {
		ts, err := txn.TableStats(s)
		if err != nil {
			return nil, err
		}
		result = append(result, ts)
	}
	return result, nil
}

func bucketStats(b kv.Bucket) (rows, size int, err error) {
	err = forEachRaw(b, func(k, v []byte) error {
		rows++
		size += len(k) + len(v)
		return nil
	})
	return rows, size, err
}
