package kv

import (
	"fmt"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
)

// Iterator walks the keys of one table in ascending byte order,
// restricted to a prefix. Close must be called on every exit path: a
// leaked iterator pins LSM tables and memtables.
//
// Usage:
//
//	it, err := db.PrefixIterator(kv.SPO, prefix)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//	    k := it.Key()
//	}
type Iterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	full    []byte // table prefix + user prefix
	ownsTxn bool
	started bool
	seeked  bool
	closed  bool
}

// PrefixIterator returns an iterator over all keys of the table
// starting with prefix. An empty prefix iterates the whole table.
func (db *DB) PrefixIterator(table Table, prefix []byte) (*Iterator, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	p, err := prefixOf(table)
	if err != nil {
		return nil, err
	}
	txn := db.db.NewTransaction(false)
	return newIterator(txn, p, prefix, true), nil
}

func newIterator(txn *badger.Txn, tablePrefix byte, prefix []byte, ownsTxn bool) *Iterator {
	full := tableKey(tablePrefix, prefix)
	iopts := badger.DefaultIteratorOptions
	iopts.Prefix = full
	iopts.PrefetchValues = false
	return &Iterator{
		txn:     txn,
		it:      txn.NewIterator(iopts),
		full:    full,
		ownsTxn: ownsTxn,
	}
}

// Next advances the iterator, returning false when the prefix range is
// exhausted or the iterator is closed.
func (it *Iterator) Next() bool {
	if it.closed {
		return false
	}
	switch {
	case !it.started:
		it.it.Rewind()
		it.started = true
	case it.seeked:
		it.seeked = false
	default:
		it.it.Next()
	}
	return it.it.ValidForPrefix(it.full)
}

// Seek positions the iterator at the first key >= target (within the
// prefix range). The next call to Next reports whether such a key
// exists.
func (it *Iterator) Seek(target []byte) {
	if it.closed {
		return
	}
	it.it.Seek(append([]byte{it.full[0]}, target...))
	it.started = true
	it.seeked = true
}

// Key returns the current key with the table prefix stripped. The
// returned slice is only valid until the next call to Next.
func (it *Iterator) Key() []byte {
	return it.it.Item().Key()[1:]
}

// KeyCopy returns a copy of the current key with the table prefix
// stripped.
func (it *Iterator) KeyCopy() []byte {
	k := it.it.Item().Key()
	return append([]byte{}, k[1:]...)
}

// Value returns a copy of the current value.
func (it *Iterator) Value() ([]byte, error) {
	v, err := it.it.Item().ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("kv: iterator value: %w", err)
	}
	return v, nil
}

// Close releases the iterator and its transaction. Safe to call more
// than once.
func (it *Iterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.it.Close()
	if it.ownsTxn {
		it.txn.Discard()
	}
}

// Snapshot is a read view of the store fixed at creation time: writes
// committed after the snapshot are not visible through it. Release
// must be called on every exit path.
type Snapshot struct {
	db       *DB
	txn      *badger.Txn
	released atomic.Bool
}

// Snapshot returns a point-in-time read view of the store.
func (db *DB) Snapshot() (*Snapshot, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return &Snapshot{db: db, txn: db.db.NewTransaction(false)}, nil
}

// Get returns the value stored under key at snapshot time.
func (s *Snapshot) Get(table Table, key []byte) ([]byte, error) {
	if s.released.Load() {
		return nil, ErrReleased
	}
	p, err := prefixOf(table)
	if err != nil {
		return nil, err
	}
	item, err := s.txn.Get(tableKey(p, key))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: snapshot get: %w", err)
	}
	return item.ValueCopy(nil)
}

// PrefixIterator returns an iterator over the snapshot's view of the
// table. The iterator must be closed before the snapshot is released.
func (s *Snapshot) PrefixIterator(table Table, prefix []byte) (*Iterator, error) {
	if s.released.Load() {
		return nil, ErrReleased
	}
	p, err := prefixOf(table)
	if err != nil {
		return nil, err
	}
	return newIterator(s.txn, p, prefix, false), nil
}

// Release frees the snapshot. Reads after Release return ErrReleased.
func (s *Snapshot) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	s.txn.Discard()
	return nil
}
