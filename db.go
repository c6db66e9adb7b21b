package structdb

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/andreyvit/structdb/kv"
	"github.com/andreyvit/structdb/kv/boltkv"
	"github.com/andreyvit/structdb/kv/memkv"
	"github.com/andreyvit/structdb/watch"
)

type DB struct {
	engine  kv.Engine
	schema  *schemaRegistry
	logger  *slog.Logger
	verbose bool

	watchers      *watch.Registry
	nextWatcherID atomic.Uint64

	// commitMu keeps engine commit and event dispatch of one transaction
	// together, so batches reach watchers in commit order.
	commitMu sync.Mutex

	ReaderCount atomic.Int64
	WriterCount atomic.Int64
}

type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// IsTesting and MmapSize configure the Bolt backend used by Open.
	IsTesting bool
	MmapSize  int
}

// Open opens or creates a Bolt-backed database at path.
func Open(path string, opt Options) (*DB, error) {
	engine, err := boltkv.Open(path, boltkv.Options{
		IsTesting: opt.IsTesting,
		MmapSize:  opt.MmapSize,
	})
	if err != nil {
		return nil, &InitError{Path: path, Err: err}
	}
	return New(engine, opt), nil
}

// OpenTemp opens or creates a database named name in the system temporary
// directory.
func OpenTemp(name string, opt Options) (*DB, error) {
	return Open(filepath.Join(os.TempDir(), name), opt)
}

// OpenMemory returns a database that lives in memory only.
func OpenMemory(opt Options) *DB {
	return New(memkv.New(), opt)
}

// New returns a database on top of an already opened engine. The database
// takes ownership of the engine and closes it in Close.
func New(engine kv.Engine, opt Options) *DB {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{
		engine:   engine,
		schema:   newSchemaRegistry(),
		logger:   logger,
		verbose:  opt.Verbose,
		watchers: watch.NewRegistry(logger),
	}
}

func (db *DB) Engine() kv.Engine {
	return db.engine
}

// Close unregisters all watchers, whose receivers then report
// watch.ErrDisconnected once drained, and closes the engine.
func (db *DB) Close() error {
	db.watchers.CloseAll()
	err := db.engine.Close()
	if err != nil {
		return fmt.Errorf("structdb: closing: %w", err)
	}
	return nil
}

// Define registers the tables of T. Defining a type again, or another type
// with the same table names, overwrites the previous registration.
func Define[T any, P itemPtr[T]](db *DB) {
	db.DefineSchema(schemaOf[T, P]())
}

// DefineSchema registers the tables described by s. Use Define for Go types.
func (db *DB) DefineSchema(s Schema) {
	db.schema.define(s)
	if db.verbose {
		db.logf("db: DEFINE %s %v", s.TableName, s.SecondaryTableNames())
	}
}

// Transaction begins a write transaction. Only one write transaction is active
// at a time; this blocks until the previous one commits or is closed.
func (db *DB) Transaction() (*Transaction, error) {
	db.WriterCount.Add(1)
	ktx, err := db.engine.Begin(true)
	if err != nil {
		db.WriterCount.Add(-1)
		return nil, fmt.Errorf("structdb: begin write: %w", err)
	}
	return &Transaction{txCore: txCore{db: db, ktx: ktx, buckets: make(map[string]kv.Bucket)}}, nil
}

// ReadTransaction begins a read-only transaction observing a consistent
// snapshot of the database.
func (db *DB) ReadTransaction() (*ReadOnlyTransaction, error) {
	ktx, err := db.engine.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("structdb: begin read: %w", err)
	}
	db.ReaderCount.Add(1)
	return &ReadOnlyTransaction{txCore: txCore{db: db, ktx: ktx, buckets: make(map[string]kv.Bucket)}}, nil
}

// Update runs f in a write transaction and commits it if f returns nil.
// A panic inside f aborts the transaction and is returned as *PanicError.
func (db *DB) Update(f func(tables *Tables) error) error {
	txn, err := db.Transaction()
	if err != nil {
		return err
	}
	defer txn.Close()
	err = safelyCall(f, txn.Tables())
	if err != nil {
		return err
	}
	return txn.Commit()
}

// View runs f in a read-only transaction.
func (db *DB) View(f func(tables *ReadOnlyTables) error) error {
	txn, err := db.ReadTransaction()
	if err != nil {
		return err
	}
	defer txn.Close()
	return safelyCall(f, txn.Tables())
}

func safelyCall[T any](fn func(T) error, arg T) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{p, string(debug.Stack())}
		}
	}()
	return fn(arg)
}

func (db *DB) logf(format string, args ...any) {
	db.logger.Debug(fmt.Sprintf(format, args...))
}
