// Package kv gives the triple store a typed, table-aware view of a
// badger LSM store: point reads and writes, atomic write batches,
// prefix iterators and point-in-time snapshots.
package kv

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Exported errors
var (
	// ErrNotFound is returned when the requested key is not present.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned on any operation against a closed store.
	ErrClosed = errors.New("store already closed")

	// ErrInvalidTable is returned when an operation names an unknown table.
	ErrInvalidTable = errors.New("invalid table")

	// ErrReleased is returned on reads through a released snapshot.
	ErrReleased = errors.New("snapshot already released")
)

// DB is a table-aware handle to the underlying badger store.
type DB struct {
	db     *badger.DB
	log    *zap.Logger
	tuning Tuning
	closed atomic.Bool

	mu      sync.Mutex
	runtime map[string]string // runtime option overrides, validated
}

// Options configure Open.
type Options struct {
	// Tuning selects the LSM profile. Zero value means DefaultTuning.
	Tuning *Tuning

	// InMemory opens an ephemeral store. For tests.
	InMemory bool

	// Logger for operational events. Defaults to a nop logger.
	Logger *zap.Logger
}

// Open opens (creating if necessary) a store at the given directory.
func Open(path string, opts Options) (*DB, error) {
	tuning := DefaultTuning()
	if opts.Tuning != nil {
		tuning = *opts.Tuning
	}
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	bopts := tuning.badgerOptions(path)
	if opts.InMemory {
		// Badger's disk-less mode requires empty directories.
		bopts = tuning.badgerOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(nil)

	bdb, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	log.Info("store opened",
		zap.String("path", path),
		zap.String("tuning", tuning.Name),
		zap.Int("tables", len(Tables)))
	return &DB{db: bdb, log: log, tuning: tuning, runtime: make(map[string]string)}, nil
}

// Close closes the store. Any outstanding iterator or snapshot must be
// released first.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	db.log.Info("store closed")
	return db.db.Close()
}

// Get returns the value stored under key in the given table, or
// ErrNotFound.
func (db *DB) Get(table Table, key []byte) ([]byte, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	p, err := prefixOf(table)
	if err != nil {
		return nil, err
	}
	var val []byte
	err = db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tableKey(p, key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get: %w", err)
	}
	return val, nil
}

// Exists checks for the presence of key in the given table without
// fetching its value.
func (db *DB) Exists(table Table, key []byte) (bool, error) {
	if db.closed.Load() {
		return false, ErrClosed
	}
	p, err := prefixOf(table)
	if err != nil {
		return false, err
	}
	err = db.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(tableKey(p, key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv: exists: %w", err)
	}
	return true, nil
}

// Put stores value under key in the given table.
func (db *DB) Put(table Table, key, value []byte) error {
	return db.WriteBatch([]Op{{Table: table, Key: key, Value: value}}, false)
}

// Delete removes key from the given table. Deleting an absent key is
// not an error.
func (db *DB) Delete(table Table, key []byte) error {
	return db.WriteBatch([]Op{{Table: table, Key: key, Delete: true}}, false)
}

// Op is a single operation in a write batch: a put, or a delete when
// Delete is set.
type Op struct {
	Table  Table
	Key    []byte
	Value  []byte
	Delete bool
}

// WriteBatch applies all operations atomically: either every op is
// visible afterwards, or none is. With sync set the batch is fsynced
// to the WAL before returning.
func (db *DB) WriteBatch(ops []Op, sync bool) error {
	if db.closed.Load() {
		return ErrClosed
	}
	// Resolve all table prefixes up front so an invalid table fails
	// before any write.
	prefixes := make([]byte, len(ops))
	for i, op := range ops {
		p, err := prefixOf(op.Table)
		if err != nil {
			return err
		}
		prefixes[i] = p
	}
	err := db.db.Update(func(txn *badger.Txn) error {
		for i, op := range ops {
			k := tableKey(prefixes[i], op.Key)
			if op.Delete {
				if err := txn.Delete(k); err != nil {
					return err
				}
			} else if err := txn.Set(k, op.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: write batch: %w", err)
	}
	if sync {
		return db.FlushWAL(true)
	}
	return nil
}

// FlushWAL forces buffered writes down to stable storage.
func (db *DB) FlushWAL(sync bool) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if !sync {
		return nil
	}
	if err := db.db.Sync(); err != nil {
		return fmt.Errorf("kv: flush wal: %w", err)
	}
	return nil
}

// Size returns the on-disk size of the LSM tree and value log in bytes.
func (db *DB) Size() (lsm, vlog int64) {
	if db.closed.Load() {
		return 0, 0
	}
	return db.db.Size()
}

// Tuning returns the tuning profile the store was opened with.
func (db *DB) Tuning() Tuning { return db.tuning }
