package structdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/structdb/kv"
	"github.com/andreyvit/structdb/watch"
)

var (
	usersByEmail = KeyDef("users_by_email")
	usersByGroup = KeyDef("users_by_group")
)

type User struct {
	ID    string `msgpack:"id"`
	Email string `msgpack:"email"`
	Group string `msgpack:"group,omitempty"`
}

func (*User) DBSchema() Schema {
	return Schema{
		TableName:     "users",
		SecondaryKeys: []KeyDefinition{usersByEmail, usersByGroup},
	}
}

func (u *User) PrimaryKey() ([]byte, error) {
	if u.ID == "" {
		return nil, errors.New("missing id")
	}
	return []byte(u.ID), nil
}

func (u *User) SecondaryKey(def KeyDefinition) ([]byte, error) {
	switch def {
	case usersByEmail:
		return []byte(u.Email), nil
	case usersByGroup:
		if u.Group == "" {
			return nil, nil
		}
		return []byte(u.Group), nil
	}
	return nil, fmt.Errorf("unknown key %s", def.SecondaryTableName())
}

// Post has no secondary keys and is never defined in setup.
type Post struct {
	ID string `msgpack:"id"`
}

func (*Post) DBSchema() Schema { return Schema{TableName: "posts"} }

func (p *Post) PrimaryKey() ([]byte, error) { return []byte(p.ID), nil }

func (p *Post) SecondaryKey(KeyDefinition) ([]byte, error) { return nil, nil }

// Counter is a single-row table for read-modify-write tests.
type Counter struct {
	Name  string `msgpack:"name"`
	Value int    `msgpack:"value"`
}

func (*Counter) DBSchema() Schema { return Schema{TableName: "counters"} }

func (c *Counter) PrimaryKey() ([]byte, error) { return []byte(c.Name), nil }

func (c *Counter) SecondaryKey(KeyDefinition) ([]byte, error) { return nil, nil }

func testOptions() Options {
	return Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Verbose: true,
	}
}

func setup(t testing.TB) *DB {
	db := OpenMemory(testOptions())
	Define[User](db)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// setupBolt is setup on a Bolt file, the engine Open uses.
func setupBolt(t testing.TB) *DB {
	opt := testOptions()
	opt.IsTesting = true
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), opt)
	require.NoError(t, err)
	Define[User](db)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func insert(t testing.TB, db *DB, items ...Item) {
	t.Helper()
	err := db.Update(func(tables *Tables) error {
		for _, item := range items {
			if err := tables.Insert(item); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func getUser(t testing.TB, db *DB, id string) *User {
	t.Helper()
	var u *User
	err := db.View(func(tables *ReadOnlyTables) error {
		var err error
		u, err = PrimaryGet[User](tables, []byte(id))
		return err
	})
	require.NoError(t, err)
	return u
}

func recv(t testing.TB, r *watch.Receiver) watch.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := r.RecvContext(ctx)
	require.NoError(t, err)
	return ev
}

func requireNoEvent(t testing.TB, r *watch.Receiver) {
	t.Helper()
	ev, err := r.TryRecv()
	require.ErrorIs(t, err, watch.ErrEmpty, "unexpected event %v", ev)
}

// faultyEngine wraps an engine and fails Begin or Commit on demand.
type faultyEngine struct {
	kv.Engine
	beginErr  error
	commitErr error
}

func (e *faultyEngine) Begin(writable bool) (kv.Tx, error) {
	if e.beginErr != nil {
		return nil, e.beginErr
	}
	tx, err := e.Engine.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, engine: e}, nil
}

type faultyTx struct {
	kv.Tx
	engine *faultyEngine
}

func (tx *faultyTx) Commit() error {
	if tx.engine.commitErr != nil {
		tx.Tx.Rollback()
		return tx.engine.commitErr
	}
	return tx.Tx.Commit()
}
