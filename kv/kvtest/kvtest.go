// Package kvtest checks kv.Engine implementations against the behavior
// structdb relies on.
package kvtest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/structdb/kv"
)

type keyVal struct {
	key string
	val string
}

// RunEngineTest exercises buckets, prefix iteration, commit and rollback on
// an empty engine. The engine is left open.
func RunEngineTest(t *testing.T, e kv.Engine) {
	t.Run("MissingBucket", func(t *testing.T) { testMissingBucket(t, e) })
	t.Run("CommitRollback", func(t *testing.T) { testCommitRollback(t, e) })
	t.Run("LenInWriteTx", func(t *testing.T) { testLenInWriteTx(t, e) })
	t.Run("Iterate", func(t *testing.T) { testIterate(t, e) })
	t.Run("BucketIsolation", func(t *testing.T) { testBucketIsolation(t, e) })
	t.Run("Snapshot", func(t *testing.T) { testSnapshot(t, e) })
}

func update(t *testing.T, e kv.Engine, bucket string, fn func(b kv.Bucket)) {
	t.Helper()
	tx, err := e.Begin(true)
	require.NoError(t, err)
	defer tx.Rollback()
	b, err := tx.Bucket(bucket)
	require.NoError(t, err)
	require.NotNil(t, b)
	fn(b)
	require.NoError(t, tx.Commit())
}

func collect(t *testing.T, b kv.Bucket, prefix string) []keyVal {
	t.Helper()
	var result []keyVal
	if b == nil {
		return result
	}
	err := b.ForEach([]byte(prefix), func(k, v []byte) error {
		result = append(result, keyVal{string(k), string(v)})
		return nil
	})
	require.NoError(t, err)
	return result
}

func view(t *testing.T, e kv.Engine, bucket string, fn func(b kv.Bucket)) {
	t.Helper()
	tx, err := e.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()
	assert.False(t, tx.Writable())
	b, err := tx.Bucket(bucket)
	require.NoError(t, err)
	fn(b)
}

func testMissingBucket(t *testing.T, e kv.Engine) {
	view(t, e, "never_written", func(b kv.Bucket) {
		n, err := kv.Len(b)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Empty(t, collect(t, b, ""))
		if b != nil {
			v, err := b.Get([]byte("k"))
			require.NoError(t, err)
			assert.Nil(t, v)
		}
	})
}

func testCommitRollback(t *testing.T, e kv.Engine) {
	update(t, e, "cr", func(b kv.Bucket) {
		require.NoError(t, b.Put([]byte("a"), []byte("1")))
		require.NoError(t, b.Put([]byte("b"), []byte("2")))

		v, err := b.Get([]byte("a"))
		require.NoError(t, err)
		assert.Equal(t, "1", string(v))
	})

	tx, err := e.Begin(true)
	require.NoError(t, err)
	b, err := tx.Bucket("cr")
	require.NoError(t, err)
	require.NoError(t, b.Put([]byte("a"), []byte("changed")))
	require.NoError(t, b.Delete([]byte("b")))
	require.NoError(t, b.Delete([]byte("missing")))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	view(t, e, "cr", func(b kv.Bucket) {
		assert.Equal(t, []keyVal{{"a", "1"}, {"b", "2"}}, collect(t, b, ""))
	})

	update(t, e, "cr", func(b kv.Bucket) {
		require.NoError(t, b.Delete([]byte("a")))
	})
	view(t, e, "cr", func(b kv.Bucket) {
		assert.Equal(t, []keyVal{{"b", "2"}}, collect(t, b, ""))
		n, err := b.Len()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func testLenInWriteTx(t *testing.T, e kv.Engine) {
	requireLen := func(b kv.Bucket, want int) {
		t.Helper()
		n, err := b.Len()
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	update(t, e, "len", func(b kv.Bucket) {
		requireLen(b, 0)
		require.NoError(t, b.Put([]byte("u1"), []byte("1")))
		require.NoError(t, b.Put([]byte("u2"), []byte("2")))
		requireLen(b, 2)
		require.NoError(t, b.Put([]byte("u2"), []byte("22")))
		requireLen(b, 2)
	})

	update(t, e, "len", func(b kv.Bucket) {
		requireLen(b, 2)
		require.NoError(t, b.Put([]byte("u3"), []byte("3")))
		require.NoError(t, b.Delete([]byte("u1")))
		require.NoError(t, b.Delete([]byte("u2")))
		requireLen(b, 1)
	})

	view(t, e, "len", func(b kv.Bucket) {
		requireLen(b, 1)
	})
}

func testIterate(t *testing.T, e kv.Engine) {
	update(t, e, "it", func(b kv.Bucket) {
		for _, k := range []string{"Accc", "Aaaa", "B", "Abbb", "A"} {
			require.NoError(t, b.Put([]byte(k), []byte("v"+k)))
		}
	})
	view(t, e, "it", func(b kv.Bucket) {
		assert.Equal(t, []keyVal{{"A", "vA"}, {"Aaaa", "vAaaa"}, {"Abbb", "vAbbb"}, {"Accc", "vAccc"}}, collect(t, b, "A"))
		assert.Equal(t, []keyVal{{"Abbb", "vAbbb"}}, collect(t, b, "Ab"))
		assert.Empty(t, collect(t, b, "C"))
		assert.Len(t, collect(t, b, ""), 5)

		var seen int
		err := b.ForEach(nil, func(k, v []byte) error {
			seen++
			return kv.Break
		})
		require.NoError(t, err)
		assert.Equal(t, 1, seen)

		boom := errors.New("boom")
		err = b.ForEach(nil, func(k, v []byte) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}

func testBucketIsolation(t *testing.T, e kv.Engine) {
	update(t, e, "iso", func(b kv.Bucket) {
		require.NoError(t, b.Put([]byte("k"), []byte("iso")))
	})
	// a bucket whose name extends another's must not see its keys
	update(t, e, "iso2", func(b kv.Bucket) {
		require.NoError(t, b.Put([]byte("k"), []byte("iso2")))
	})
	view(t, e, "iso", func(b kv.Bucket) {
		assert.Equal(t, []keyVal{{"k", "iso"}}, collect(t, b, ""))
	})
	view(t, e, "iso2", func(b kv.Bucket) {
		assert.Equal(t, []keyVal{{"k", "iso2"}}, collect(t, b, ""))
	})
}

func testSnapshot(t *testing.T, e kv.Engine) {
	update(t, e, "snap", func(b kv.Bucket) {
		require.NoError(t, b.Put([]byte("a"), []byte("1")))
	})

	rtx, err := e.Begin(false)
	require.NoError(t, err)
	defer rtx.Rollback()

	update(t, e, "snap", func(b kv.Bucket) {
		require.NoError(t, b.Put([]byte("b"), []byte("2")))
	})

	b, err := rtx.Bucket("snap")
	require.NoError(t, err)
	assert.Equal(t, []keyVal{{"a", "1"}}, collect(t, b, ""))
}
