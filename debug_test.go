package structdb

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDump(t *testing.T) {
	db := setup(t)
	insert(t, db,
		&User{ID: "u2", Email: "b@x"},
		&User{ID: "u1", Email: "a@x", Group: "g"},
	)

	rtxn, err := db.ReadTransaction()
	require.NoError(t, err)
	defer rtxn.Close()

	out, err := rtxn.Dump(DumpAll &^ DumpStats)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "dump", []byte(out))
}

func TestDumpFlags(t *testing.T) {
	assert.True(t, DumpAll.Contains(DumpRows|DumpIndices))
	assert.False(t, DumpTableHeaders.Contains(DumpRows))
}

func TestStats(t *testing.T) {
	db := setup(t)
	insert(t, db,
		&User{ID: "u1", Email: "a@x", Group: "g"},
		&User{ID: "u2", Email: "b@x"},
	)

	rtxn, err := db.ReadTransaction()
	require.NoError(t, err)
	defer rtxn.Close()

	stats, err := rtxn.Stats()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	ts := stats[0]
	assert.Equal(t, "users", ts.Table)
	assert.Equal(t, 2, ts.Rows)
	assert.Equal(t, 3, ts.IndexRows)
	// each index entry is (secondary key, primary key) => primary key
	entrySize := func(sk, pk string) int {
		return len(secondaryEntryKey([]byte(sk), []byte(pk))) + len(pk)
	}
	assert.Equal(t, entrySize("a@x", "u1")+entrySize("b@x", "u2")+entrySize("g", "u1"), ts.IndexSize)
	assert.Positive(t, ts.DataSize)
	assert.Equal(t, ts.DataSize+ts.IndexSize, ts.TotalSize())
}

func TestLoggablePayload(t *testing.T) {
	assert.Equal(t, "c1", loggablePayload([]byte{0xc1}))
}
