package structdb

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarantool/go-option"

	"github.com/andreyvit/structdb/kv/memkv"
	"github.com/andreyvit/structdb/watch"
)

func TestWatchInsertUpdateDelete(t *testing.T) {
	db := setup(t)
	rcv, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)

	u1 := &User{ID: "u1", Email: "a@x"}
	u2 := &User{ID: "u1", Email: "b@x"}
	insert(t, db, u1)
	require.NoError(t, db.Update(func(tables *Tables) error { return tables.Update(u1, u2) }))
	require.NoError(t, db.Update(func(tables *Tables) error { return tables.Remove(u2) }))

	ins, ok := recv(t, rcv).(watch.Insert)
	require.True(t, ok)
	assert.Equal(t, "users", ins.Table)
	assert.Equal(t, []byte("u1"), ins.Key)
	var got User
	require.NoError(t, ins.Inner(&got))
	assert.Equal(t, *u1, got)

	upd, ok := recv(t, rcv).(watch.Update)
	require.True(t, ok)
	var before, after User
	require.NoError(t, upd.InnerOld(&before))
	require.NoError(t, upd.InnerNew(&after))
	assert.Equal(t, "a@x", before.Email)
	assert.Equal(t, "b@x", after.Email)
	assert.Equal(t, []byte("a@x"), upd.OldSecondaryKeys[usersByEmail.SecondaryTableName()])

	del, ok := recv(t, rcv).(watch.Delete)
	require.True(t, ok)
	require.NoError(t, del.Inner(&got))
	assert.Equal(t, *u2, got)

	requireNoEvent(t, rcv)
}

func TestWatchEventsFollowMutationOrder(t *testing.T) {
	db := setup(t)
	rcv, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)

	insert(t, db, &User{ID: "c"}, &User{ID: "a"}, &User{ID: "b"})
	for _, id := range []string{"c", "a", "b"} {
		ev := recv(t, rcv).(watch.Insert)
		assert.Equal(t, id, string(ev.Key))
	}
	requireNoEvent(t, rcv)
}

func TestWatchPrimaryExact(t *testing.T) {
	db := setup(t)
	rcv, _, err := PrimaryWatch[User](db, option.Some([]byte("u1")))
	require.NoError(t, err)

	insert(t, db, &User{ID: "u2"}, &User{ID: "u1"}, &User{ID: "u10"})
	ev := recv(t, rcv).(watch.Insert)
	assert.Equal(t, "u1", string(ev.Key))
	requireNoEvent(t, rcv)
}

func TestWatchPrimaryPrefix(t *testing.T) {
	db := setup(t)
	rcv, _, err := PrimaryWatchStartWith[User](db, []byte("org1/"))
	require.NoError(t, err)

	insert(t, db, &User{ID: "org1/a"}, &User{ID: "org2/a"}, &User{ID: "org1/b"}, &User{ID: "org1"})
	assert.Equal(t, "org1/a", string(recv(t, rcv).(watch.Insert).Key))
	assert.Equal(t, "org1/b", string(recv(t, rcv).(watch.Insert).Key))
	requireNoEvent(t, rcv)
}

func TestWatchUpdateMatchesOldOrNewKey(t *testing.T) {
	db := setup(t)
	oldRcv, _, err := PrimaryWatch[User](db, option.Some([]byte("old")))
	require.NoError(t, err)
	newRcv, _, err := PrimaryWatch[User](db, option.Some([]byte("new")))
	require.NoError(t, err)

	old := &User{ID: "old", Email: "a@x"}
	insert(t, db, old)
	_ = recv(t, oldRcv)

	require.NoError(t, db.Update(func(tables *Tables) error {
		return tables.Update(old, &User{ID: "new", Email: "a@x"})
	}))

	for _, rcv := range []*watch.Receiver{oldRcv, newRcv} {
		upd, ok := recv(t, rcv).(watch.Update)
		require.True(t, ok)
		assert.Equal(t, "old", string(upd.OldKey))
		assert.Equal(t, "new", string(upd.NewKey))
		requireNoEvent(t, rcv)
	}
}

func TestWatchSecondary(t *testing.T) {
	db := setup(t)
	exact, _, err := SecondaryWatch[User](db, usersByGroup, option.Some([]byte("admins")))
	require.NoError(t, err)
	prefix, _, err := SecondaryWatchStartWith[User](db, usersByGroup, []byte("adm"))
	require.NoError(t, err)
	anyKey, _, err := SecondaryWatch[User](db, usersByGroup, option.None[[]byte]())
	require.NoError(t, err)

	insert(t, db,
		&User{ID: "u1", Group: "admins"},
		&User{ID: "u2", Group: "adm"},
		&User{ID: "u3", Group: "users"},
		&User{ID: "u4"},
	)

	assert.Equal(t, "u1", string(recv(t, exact).(watch.Insert).Key))
	requireNoEvent(t, exact)

	assert.Equal(t, "u1", string(recv(t, prefix).(watch.Insert).Key))
	assert.Equal(t, "u2", string(recv(t, prefix).(watch.Insert).Key))
	requireNoEvent(t, prefix)

	// u4 has no key in the index
	for _, id := range []string{"u1", "u2", "u3"} {
		assert.Equal(t, id, string(recv(t, anyKey).(watch.Insert).Key))
	}
	requireNoEvent(t, anyKey)
}

func TestWatchSecondaryUpdateLeavingKey(t *testing.T) {
	db := setup(t)
	u := &User{ID: "u1", Group: "admins"}
	insert(t, db, u)

	rcv, _, err := SecondaryWatch[User](db, usersByGroup, option.Some([]byte("admins")))
	require.NoError(t, err)

	require.NoError(t, db.Update(func(tables *Tables) error {
		return tables.Update(u, &User{ID: "u1", Group: "users"})
	}))
	_, ok := recv(t, rcv).(watch.Update)
	require.True(t, ok)
}

func TestAbortDeliversNothing(t *testing.T) {
	db := setup(t)
	rcv, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)

	txn, err := db.Transaction()
	require.NoError(t, err)
	require.NoError(t, txn.Tables().Insert(&User{ID: "u1"}))
	txn.Close()
	requireNoEvent(t, rcv)

	err = db.Update(func(tables *Tables) error {
		require.NoError(t, tables.Insert(&User{ID: "u2"}))
		panic("oops")
	})
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "oops", panicErr.Reason)
	requireNoEvent(t, rcv)

	insert(t, db, &User{ID: "u3"})
	assert.Equal(t, "u3", string(recv(t, rcv).(watch.Insert).Key))
}

func TestRemoveMissingEmitsNothing(t *testing.T) {
	db := setup(t)
	rcv, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tables *Tables) error {
		return tables.Remove(&User{ID: "ghost"})
	}))
	requireNoEvent(t, rcv)
}

func TestCommitFailureDeliversNothing(t *testing.T) {
	engine := &faultyEngine{Engine: memkv.New()}
	db := New(engine, testOptions())
	Define[User](db)
	defer db.Close()

	rcv, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)

	boom := errors.New("disk on fire")
	engine.commitErr = boom
	err = db.Update(func(tables *Tables) error {
		return tables.Insert(&User{ID: "u1"})
	})
	require.ErrorIs(t, err, boom)
	requireNoEvent(t, rcv)

	engine.commitErr = nil
	insert(t, db, &User{ID: "u2"})
	assert.Equal(t, "u2", string(recv(t, rcv).(watch.Insert).Key))
	requireNoEvent(t, rcv)
}

func TestBeginFailure(t *testing.T) {
	boom := errors.New("no engine")
	db := New(&faultyEngine{Engine: memkv.New(), beginErr: boom}, testOptions())
	Define[User](db)

	_, err := db.Transaction()
	require.ErrorIs(t, err, boom)
	_, err = db.ReadTransaction()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), db.WriterCount.Load())
	assert.Equal(t, int64(0), db.ReaderCount.Load())
}

func TestUnwatch(t *testing.T) {
	db := setup(t)
	rcv, id, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)
	assert.Equal(t, 1, db.WatcherCount())

	insert(t, db, &User{ID: "u1"})
	db.Unwatch(id)
	db.Unwatch(id)
	assert.Equal(t, 0, db.WatcherCount())

	insert(t, db, &User{ID: "u2"})

	// queued events survive, then the channel reports disconnect
	assert.Equal(t, "u1", string(recv(t, rcv).(watch.Insert).Key))
	_, err = rcv.Recv()
	require.ErrorIs(t, err, watch.ErrDisconnected)
}

func TestClosedReceiverDoesNotBlockCommits(t *testing.T) {
	db := setup(t)
	dead, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)
	live, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)

	dead.Close()
	insert(t, db, &User{ID: "u1"})
	assert.Equal(t, "u1", string(recv(t, live).(watch.Insert).Key))
	assert.Equal(t, 2, db.WatcherCount())
}

func TestWatcherIDs(t *testing.T) {
	db := setup(t)
	seen := map[uint64]bool{}
	for range 10 {
		_, id, err := PrimaryWatch[User](db, option.None[[]byte]())
		require.NoError(t, err)
		require.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
	_, ok := seen[0]
	assert.True(t, ok)
}

func TestWatcherLimit(t *testing.T) {
	db := setup(t)
	rcv, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)

	db.nextWatcherID.Store(math.MaxUint64 - 1)
	_, id, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), id)

	for range 3 {
		_, _, err = PrimaryWatch[User](db, option.None[[]byte]())
		require.ErrorIs(t, err, ErrWatcherLimit)
		_, _, err = SecondaryWatchStartWith[User](db, usersByEmail, nil)
		require.ErrorIs(t, err, ErrWatcherLimit)
	}

	// existing watchers keep working
	insert(t, db, &User{ID: "u1"})
	assert.Equal(t, "u1", string(recv(t, rcv).(watch.Insert).Key))
}

func TestConcurrentWritersKeepCommitOrder(t *testing.T) {
	for name, setupDB := range map[string]func(testing.TB) *DB{"mem": setup, "bolt": setupBolt} {
		t.Run(name, func(t *testing.T) {
			testConcurrentWritersKeepCommitOrder(t, setupDB(t))
		})
	}
}

func testConcurrentWritersKeepCommitOrder(t *testing.T, db *DB) {
	rcv, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				// two inserts per transaction must arrive back to back
				err := db.Update(func(tables *Tables) error {
					id := string(rune('a'+w)) + string(rune('A'+i%26))
					if err := tables.Insert(&User{ID: id + "1"}); err != nil {
						return err
					}
					return tables.Insert(&User{ID: id + "2"})
				})
				if !assert.NoError(t, err) {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, writers*perWriter*2, rcv.Len())
	for range writers * perWriter {
		first := recv(t, rcv).(watch.Insert)
		second := recv(t, rcv).(watch.Insert)
		assert.Equal(t, string(first.Key[:len(first.Key)-1]), string(second.Key[:len(second.Key)-1]))
		assert.Equal(t, byte('1'), first.Key[len(first.Key)-1])
		assert.Equal(t, byte('2'), second.Key[len(second.Key)-1])
	}

	err = db.View(func(tables *ReadOnlyTables) error {
		n, err := Len[User](tables)
		require.NoError(t, err)
		assert.Equal(t, writers*perWriter*2, n)
		return nil
	})
	require.NoError(t, err)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	for name, setupDB := range map[string]func(testing.TB) *DB{"mem": setup, "bolt": setupBolt} {
		t.Run(name, func(t *testing.T) {
			db := setupDB(t)
			Define[Counter](db)
			insert(t, db, &Counter{Name: "hits"})
			rcv, _, err := PrimaryWatch[Counter](db, option.Some([]byte("hits")))
			require.NoError(t, err)

			const writers = 8
			const perWriter = 50
			var wg sync.WaitGroup
			for range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range perWriter {
						err := db.Update(func(tables *Tables) error {
							c, err := PrimaryGet[Counter](tables, []byte("hits"))
							if err != nil {
								return err
							}
							next := *c
							next.Value++
							return tables.Update(c, &next)
						})
						if !assert.NoError(t, err) {
							return
						}
					}
				}()
			}
			wg.Wait()

			var c *Counter
			err = db.View(func(tables *ReadOnlyTables) error {
				var err error
				c, err = PrimaryGet[Counter](tables, []byte("hits"))
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, writers*perWriter, c.Value)

			// every update observed exactly once, in commit order
			require.Equal(t, writers*perWriter, rcv.Len())
			for i := range writers * perWriter {
				upd := recv(t, rcv).(watch.Update)
				var before, after Counter
				require.NoError(t, upd.InnerOld(&before))
				require.NoError(t, upd.InnerNew(&after))
				assert.Equal(t, i, before.Value)
				assert.Equal(t, i+1, after.Value)
			}
		})
	}
}

func TestCloseDisconnectsWatchers(t *testing.T) {
	db := OpenMemory(testOptions())
	Define[User](db)
	rcv, _, err := PrimaryWatch[User](db, option.None[[]byte]())
	require.NoError(t, err)

	require.NoError(t, db.Close())
	_, err = rcv.Recv()
	require.ErrorIs(t, err, watch.ErrDisconnected)

	_, err = db.Transaction()
	require.Error(t, err)
}
