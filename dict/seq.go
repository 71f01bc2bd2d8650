package dict

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/boutros/mimir/kv"
)

// Kind enumerates the dictionary-allocated term kinds, each with its
// own sequence.
type Kind uint8

const (
	KindURI Kind = iota
	KindBNode
	KindLiteral
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindURI:
		return "uri"
	case KindBNode:
		return "bnode"
	case KindLiteral:
		return "literal"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) tag() uint8 {
	switch k {
	case KindURI:
		return TagURI
	case KindBNode:
		return TagBNode
	default:
		return TagLiteral
	}
}

const (
	// FlushInterval is the number of allocations per kind between
	// durable checkpoints of the counter.
	FlushInterval = 1000

	// SafetyMargin is added to a persisted counter on recovery and
	// import, guaranteeing no ID reuse after a crash between
	// checkpoints.
	SafetyMargin = 1000

	counterKeyPrefix = "__seq_counter__"

	backupVersion = 1
)

// ErrSequenceOverflow is returned when a per-kind 60-bit sequence is
// exhausted. It is fatal for that kind; the counter is left unchanged.
var ErrSequenceOverflow = errors.New("sequence overflow")

// Allocator produces unique 60-bit sequence numbers per term kind.
// NextID and AllocateRange are lock-free; the periodic checkpoint to
// the backend is serialized internally.
type Allocator struct {
	db  *kv.DB
	log *zap.Logger

	cells [numKinds]atomic.Uint64
	since [numKinds]atomic.Uint64 // allocations since last checkpoint

	persistMu sync.Mutex
}

// OpenAllocator loads the persisted counters and initializes each cell
// to the persisted value plus SafetyMargin. Kinds never persisted
// start at zero (first allocated sequence is 1).
func OpenAllocator(db *kv.DB, log *zap.Logger) (*Allocator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Allocator{db: db, log: log}
	for k := Kind(0); k < numKinds; k++ {
		v, err := db.Get(kv.Str2ID, counterKey(k))
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("dict: load counter %s: %w", k, err)
		}
		if len(v) != 8 {
			return nil, fmt.Errorf("dict: counter %s: malformed value", k)
		}
		a.cells[k].Store(binary.BigEndian.Uint64(v) + SafetyMargin)
	}
	return a, nil
}

func counterKey(k Kind) []byte {
	return []byte(counterKeyPrefix + k.String())
}

// NextID allocates the next sequence of the kind and returns it as a
// tagged ID. Every FlushInterval allocations the counter is
// checkpointed; a failed checkpoint is logged and retried at the next
// boundary while the in-memory counter keeps advancing.
func (a *Allocator) NextID(kind Kind) (ID, error) {
	if kind >= numKinds {
		return 0, fmt.Errorf("dict: invalid kind %d", kind)
	}
	seq := a.cells[kind].Add(1)
	if seq > MaxSeq {
		a.cells[kind].Add(^uint64(0)) // roll back
		return 0, ErrSequenceOverflow
	}
	if a.since[kind].Add(1)%FlushInterval == 0 {
		a.checkpoint(kind)
	}
	return MakeID(kind.tag(), seq), nil
}

// AllocateRange reserves n consecutive sequences of the kind and
// returns the first. The caller owns [start, start+n). No per-element
// checkpointing; one checkpoint covers the whole range.
func (a *Allocator) AllocateRange(kind Kind, n uint64) (uint64, error) {
	if kind >= numKinds {
		return 0, fmt.Errorf("dict: invalid kind %d", kind)
	}
	if n == 0 {
		return a.cells[kind].Load() + 1, nil
	}
	end := a.cells[kind].Add(n)
	if end > MaxSeq {
		a.cells[kind].Add(-n)
		return 0, ErrSequenceOverflow
	}
	if after := a.since[kind].Add(n); after/FlushInterval != (after-n)/FlushInterval {
		a.checkpoint(kind)
	}
	return end - n + 1, nil
}

// Current returns the kind's current high-water mark.
func (a *Allocator) Current(kind Kind) uint64 {
	if kind >= numKinds {
		return 0
	}
	return a.cells[kind].Load()
}

func (a *Allocator) checkpoint(kind Kind) {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, a.cells[kind].Load())
	if err := a.db.Put(kv.Str2ID, counterKey(kind), v); err != nil {
		// Keep the in-memory counter; retry at the next boundary.
		a.log.Warn("counter checkpoint failed",
			zap.String("kind", kind.String()), zap.Error(err))
	}
}

// Flush persists all counters. Called on shutdown.
func (a *Allocator) Flush() error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	ops := make([]kv.Op, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, a.cells[k].Load())
		ops = append(ops, kv.Op{Table: kv.Str2ID, Key: counterKey(k), Value: v})
	}
	if err := a.db.WriteBatch(ops, true); err != nil {
		return fmt.Errorf("dict: flush counters: %w", err)
	}
	return nil
}

// Counters is a point-in-time view of the three sequence counters.
type Counters struct {
	URI     uint64
	BNode   uint64
	Literal uint64
}

// Export returns the current counter values.
func (a *Allocator) Export() Counters {
	return Counters{
		URI:     a.cells[KindURI].Load(),
		BNode:   a.cells[KindBNode].Load(),
		Literal: a.cells[KindLiteral].Load(),
	}
}

// Import raises each counter to max(current, imported+SafetyMargin)
// and persists the result.
func (a *Allocator) Import(c Counters) error {
	for _, kv := range []struct {
		kind Kind
		val  uint64
	}{{KindURI, c.URI}, {KindBNode, c.BNode}, {KindLiteral, c.Literal}} {
		target := kv.val + SafetyMargin
		for {
			cur := a.cells[kv.kind].Load()
			if cur >= target || a.cells[kv.kind].CompareAndSwap(cur, target) {
				break
			}
		}
	}
	return a.Flush()
}

// WriteBackup writes the counters as a version-tagged byte stream: a
// version byte, the three counters big-endian in kind order, and an
// RFC 3339 timestamp.
func (a *Allocator) WriteBackup(w io.Writer, now time.Time) error {
	var buf bytes.Buffer
	buf.WriteByte(backupVersion)
	c := a.Export()
	for _, v := range []uint64{c.URI, c.BNode, c.Literal} {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
	buf.WriteString(now.UTC().Format(time.RFC3339))
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadBackup parses a counter backup stream, validating the version
// and the timestamp, and applies it via Import.
func (a *Allocator) ReadBackup(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("dict: read backup: %w", err)
	}
	if len(data) < 1+8*int(numKinds) {
		return errors.New("dict: counter backup truncated")
	}
	if data[0] != backupVersion {
		return fmt.Errorf("dict: unsupported counter backup version %d", data[0])
	}
	var c Counters
	c.URI = binary.BigEndian.Uint64(data[1:9])
	c.BNode = binary.BigEndian.Uint64(data[9:17])
	c.Literal = binary.BigEndian.Uint64(data[17:25])
	if _, err := time.Parse(time.RFC3339, string(data[25:])); err != nil {
		return fmt.Errorf("dict: counter backup timestamp: %w", err)
	}
	return a.Import(c)
}
