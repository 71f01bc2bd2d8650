package kv

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

// CompactionStyle selects how the LSM merges levels.
type CompactionStyle string

const (
	CompactionLevel     CompactionStyle = "level"
	CompactionUniversal CompactionStyle = "universal"
	CompactionFIFO      CompactionStyle = "fifo"
)

// Compression names a block compression algorithm.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
	CompressionLZ4HC  Compression = "lz4hc"
	CompressionZSTD   Compression = "zstd"
)

// CompactionProfile holds the level-structure and backpressure knobs
// of the LSM.
type CompactionProfile struct {
	Style CompactionStyle `yaml:"style"`

	// BaseLevelSize is the target byte size of L1. Level n (n >= 1)
	// targets BaseLevelSize * Multiplier^(n-1).
	BaseLevelSize int64 `yaml:"base_level_size"`
	Multiplier    int   `yaml:"multiplier"`
	NumLevels     int   `yaml:"num_levels"`

	// L0 backpressure triggers. Must be strictly increasing.
	CompactionTrigger int `yaml:"compaction_trigger"`
	SlowdownTrigger   int `yaml:"slowdown_trigger"`
	StopTrigger       int `yaml:"stop_trigger"`

	// RateLimitBytes caps compaction+flush throughput. 0 means unlimited.
	RateLimitBytes int64 `yaml:"rate_limit_bytes"`
	FairRateLimit  bool  `yaml:"fair_rate_limit"`

	MaxBackgroundCompactions int `yaml:"max_background_compactions"`
	MaxBackgroundFlushes     int `yaml:"max_background_flushes"`

	TargetFileSizeBase       int64 `yaml:"target_file_size_base"`
	TargetFileSizeMultiplier int   `yaml:"target_file_size_multiplier"`

	// WriteBufferSize is the memtable size; MaxWriteBuffers the number
	// of memtables kept before stalling flushes.
	WriteBufferSize int64 `yaml:"write_buffer_size"`
	MaxWriteBuffers int   `yaml:"max_write_buffers"`
}

// TableProfile holds per-table block and filter settings.
type TableProfile struct {
	// BloomBitsPerKey enables a bloom filter when > 0. Range [1,24].
	BloomBitsPerKey int `yaml:"bloom_bits_per_key"`

	// PrefixLength enables a fixed-length prefix extractor when > 0.
	// Range [1,64] bytes.
	PrefixLength int `yaml:"prefix_length"`

	// BlockSize in bytes. Range [1 KiB, 1 MiB].
	BlockSize int `yaml:"block_size"`

	WholeKeyFiltering     bool `yaml:"whole_key_filtering"`
	PinL0IndexAndFilter   bool `yaml:"pin_l0_index_and_filter"`
	OptimizeFiltersForHits bool `yaml:"optimize_filters_for_hits"`
	FormatVersion         int  `yaml:"format_version"`
}

// CompressionSetting pairs an algorithm with a level. Level is only
// meaningful for zstd, where it must lie in [0,22].
type CompressionSetting struct {
	Algorithm Compression `yaml:"algorithm"`
	Level     int         `yaml:"level"`
}

// CompressionPlan maps tables to per-level compression: each entry
// applies from its FromLevel up to the next entry's level. A typical
// plan keeps L0 uncompressed, uses a cheap codec in the middle levels
// and zstd at the bottom.
type CompressionPlan struct {
	PerTable map[Table][]LevelCompression `yaml:"per_table"`
}

// LevelCompression applies a compression setting from level FromLevel
// and downward, until overridden by a later entry.
type LevelCompression struct {
	FromLevel int                `yaml:"from_level"`
	Setting   CompressionSetting `yaml:"setting"`
}

// Tuning is the full LSM configuration: compaction structure, per-table
// block settings, and the compression plan. It is pure data; Validate
// and the derivation helpers never touch a live store.
type Tuning struct {
	Name        string                 `yaml:"name"`
	Compaction  CompactionProfile      `yaml:"compaction"`
	Tables      map[Table]TableProfile `yaml:"tables"`
	Compression CompressionPlan        `yaml:"compression"`
}

const (
	minBlockSize = 1 << 10
	maxBlockSize = 1 << 20
)

// indexTables get prefix extractors sized for 8- and 16-byte ID scans;
// dictionary tables are point-lookup only.
func baseTables() map[Table]TableProfile {
	idx := TableProfile{
		BloomBitsPerKey:     10,
		PrefixLength:        16,
		BlockSize:           16 << 10,
		WholeKeyFiltering:   false,
		PinL0IndexAndFilter: true,
		FormatVersion:       5,
	}
	point := TableProfile{
		BloomBitsPerKey:        10,
		BlockSize:              4 << 10,
		WholeKeyFiltering:      true,
		PinL0IndexAndFilter:    true,
		OptimizeFiltersForHits: true,
		FormatVersion:          5,
	}
	return map[Table]TableProfile{
		Default: point,
		Str2ID:  point,
		ID2Str:  point,
		SPO:     idx,
		POS:     idx,
		OSP:     idx,
		Derived: idx,
	}
}

func basePlan() CompressionPlan {
	indexLevels := []LevelCompression{
		{FromLevel: 0, Setting: CompressionSetting{Algorithm: CompressionNone}},
		{FromLevel: 1, Setting: CompressionSetting{Algorithm: CompressionLZ4}},
		{FromLevel: 3, Setting: CompressionSetting{Algorithm: CompressionZSTD, Level: 3}},
	}
	dictLevels := []LevelCompression{
		{FromLevel: 0, Setting: CompressionSetting{Algorithm: CompressionNone}},
		{FromLevel: 1, Setting: CompressionSetting{Algorithm: CompressionSnappy}},
		{FromLevel: 4, Setting: CompressionSetting{Algorithm: CompressionZSTD, Level: 3}},
	}
	return CompressionPlan{PerTable: map[Table][]LevelCompression{
		Default: dictLevels,
		Str2ID:  dictLevels,
		ID2Str:  dictLevels,
		SPO:     indexLevels,
		POS:     indexLevels,
		OSP:     indexLevels,
		Derived: indexLevels,
	}}
}

// DefaultTuning is a balanced profile suitable for mixed workloads.
func DefaultTuning() Tuning {
	return Tuning{
		Name: "default",
		Compaction: CompactionProfile{
			Style:                    CompactionLevel,
			BaseLevelSize:            256 << 20,
			Multiplier:               10,
			NumLevels:                7,
			CompactionTrigger:        4,
			SlowdownTrigger:          20,
			StopTrigger:              36,
			MaxBackgroundCompactions: 4,
			MaxBackgroundFlushes:     2,
			TargetFileSizeBase:       64 << 20,
			TargetFileSizeMultiplier: 1,
			WriteBufferSize:          64 << 20,
			MaxWriteBuffers:          5,
		},
		Tables:      baseTables(),
		Compression: basePlan(),
	}
}

// WriteHeavyTuning favors ingest throughput: bigger memtables, later
// compaction, higher parallelism.
func WriteHeavyTuning() Tuning {
	t := DefaultTuning()
	t.Name = "write_heavy"
	t.Compaction.CompactionTrigger = 8
	t.Compaction.SlowdownTrigger = 32
	t.Compaction.StopTrigger = 48
	t.Compaction.WriteBufferSize = 128 << 20
	t.Compaction.MaxWriteBuffers = 8
	t.Compaction.MaxBackgroundCompactions = 8
	t.Compaction.MaxBackgroundFlushes = 4
	return t
}

// ReadHeavyTuning favors lookup latency: more bloom bits, aggressive
// compaction so reads touch few levels.
func ReadHeavyTuning() Tuning {
	t := DefaultTuning()
	t.Name = "read_heavy"
	t.Compaction.CompactionTrigger = 2
	t.Compaction.SlowdownTrigger = 12
	t.Compaction.StopTrigger = 24
	for name, tp := range t.Tables {
		tp.BloomBitsPerKey = 14
		tp.OptimizeFiltersForHits = true
		t.Tables[name] = tp
	}
	return t
}

// BalancedTuning sits between the read- and write-optimized presets.
func BalancedTuning() Tuning {
	t := DefaultTuning()
	t.Name = "balanced"
	t.Compaction.CompactionTrigger = 4
	t.Compaction.SlowdownTrigger = 16
	t.Compaction.StopTrigger = 30
	t.Compaction.MaxBackgroundCompactions = 6
	return t
}

// LowLatencyTuning keeps levels shallow and files small so any single
// operation touches little data.
func LowLatencyTuning() Tuning {
	t := DefaultTuning()
	t.Name = "low_latency"
	t.Compaction.NumLevels = 5
	t.Compaction.BaseLevelSize = 128 << 20
	t.Compaction.TargetFileSizeBase = 32 << 20
	t.Compaction.WriteBufferSize = 32 << 20
	t.Compaction.CompactionTrigger = 2
	t.Compaction.SlowdownTrigger = 10
	t.Compaction.StopTrigger = 20
	for name, tp := range t.Tables {
		tp.BlockSize = 4 << 10
		t.Tables[name] = tp
	}
	return t
}

// BulkLoadTuning defers compaction almost entirely; intended for
// initial imports followed by a manual flatten.
func BulkLoadTuning() Tuning {
	t := DefaultTuning()
	t.Name = "bulk_load"
	t.Compaction.CompactionTrigger = 16
	t.Compaction.SlowdownTrigger = 48
	t.Compaction.StopTrigger = 64
	t.Compaction.WriteBufferSize = 256 << 20
	t.Compaction.MaxWriteBuffers = 10
	t.Compaction.MaxBackgroundCompactions = 2
	return t
}

// Preset returns the named tuning preset.
func Preset(name string) (Tuning, error) {
	switch name {
	case "default":
		return DefaultTuning(), nil
	case "write_heavy":
		return WriteHeavyTuning(), nil
	case "read_heavy":
		return ReadHeavyTuning(), nil
	case "balanced":
		return BalancedTuning(), nil
	case "low_latency":
		return LowLatencyTuning(), nil
	case "bulk_load":
		return BulkLoadTuning(), nil
	}
	return Tuning{}, fmt.Errorf("kv: unknown tuning preset %q", name)
}

// Validate checks every knob, returning a human-readable reason on the
// first violation.
func (t Tuning) Validate() error {
	c := t.Compaction
	switch c.Style {
	case CompactionLevel, CompactionUniversal, CompactionFIFO:
	default:
		return fmt.Errorf("kv: tuning: compaction style %q is not one of level, universal, fifo", c.Style)
	}
	for _, v := range []struct {
		name string
		val  int64
	}{
		{"base_level_size", c.BaseLevelSize},
		{"multiplier", int64(c.Multiplier)},
		{"num_levels", int64(c.NumLevels)},
		{"compaction_trigger", int64(c.CompactionTrigger)},
		{"slowdown_trigger", int64(c.SlowdownTrigger)},
		{"stop_trigger", int64(c.StopTrigger)},
		{"max_background_compactions", int64(c.MaxBackgroundCompactions)},
		{"max_background_flushes", int64(c.MaxBackgroundFlushes)},
		{"target_file_size_base", c.TargetFileSizeBase},
		{"target_file_size_multiplier", int64(c.TargetFileSizeMultiplier)},
		{"write_buffer_size", c.WriteBufferSize},
		{"max_write_buffers", int64(c.MaxWriteBuffers)},
	} {
		if v.val <= 0 {
			return fmt.Errorf("kv: tuning: %s must be positive, got %d", v.name, v.val)
		}
	}
	if c.RateLimitBytes < 0 {
		return fmt.Errorf("kv: tuning: rate_limit_bytes must be non-negative, got %d", c.RateLimitBytes)
	}
	if !(c.CompactionTrigger < c.SlowdownTrigger && c.SlowdownTrigger < c.StopTrigger) {
		return fmt.Errorf("kv: tuning: L0 triggers must be strictly increasing: compaction %d < slowdown %d < stop %d",
			c.CompactionTrigger, c.SlowdownTrigger, c.StopTrigger)
	}
	for name, tp := range t.Tables {
		if _, err := prefixOf(name); err != nil {
			return err
		}
		if tp.BloomBitsPerKey != 0 && (tp.BloomBitsPerKey < 1 || tp.BloomBitsPerKey > 24) {
			return fmt.Errorf("kv: tuning: table %s: bloom_bits_per_key %d outside [1,24]", name, tp.BloomBitsPerKey)
		}
		if tp.PrefixLength != 0 && (tp.PrefixLength < 1 || tp.PrefixLength > 64) {
			return fmt.Errorf("kv: tuning: table %s: prefix_length %d outside [1,64]", name, tp.PrefixLength)
		}
		if tp.BlockSize < minBlockSize || tp.BlockSize > maxBlockSize {
			return fmt.Errorf("kv: tuning: table %s: block_size %d outside [%d,%d]", name, tp.BlockSize, minBlockSize, maxBlockSize)
		}
	}
	for name, levels := range t.Compression.PerTable {
		if _, err := prefixOf(name); err != nil {
			return err
		}
		for _, lc := range levels {
			switch lc.Setting.Algorithm {
			case CompressionNone, CompressionSnappy, CompressionLZ4, CompressionLZ4HC, CompressionZSTD:
			default:
				return fmt.Errorf("kv: tuning: table %s: unknown compression %q", name, lc.Setting.Algorithm)
			}
			if lc.Setting.Algorithm == CompressionZSTD && (lc.Setting.Level < 0 || lc.Setting.Level > 22) {
				return fmt.Errorf("kv: tuning: table %s: zstd level %d outside [0,22]", name, lc.Setting.Level)
			}
			if lc.FromLevel < 0 || lc.FromLevel >= c.NumLevels {
				return fmt.Errorf("kv: tuning: table %s: compression from_level %d outside [0,%d)", name, lc.FromLevel, c.NumLevels)
			}
		}
	}
	return nil
}

// LevelSizes returns the target byte size per level. L0 has no target
// (it is bounded by file count, not bytes) and is reported as -1.
func (t Tuning) LevelSizes() []int64 {
	sizes := make([]int64, t.Compaction.NumLevels)
	if len(sizes) == 0 {
		return sizes
	}
	sizes[0] = -1
	size := t.Compaction.BaseLevelSize
	for n := 1; n < t.Compaction.NumLevels; n++ {
		sizes[n] = size
		size *= int64(t.Compaction.Multiplier)
	}
	return sizes
}

// TotalCapacity sums the byte targets of all sized levels.
func (t Tuning) TotalCapacity() int64 {
	var total int64
	for _, s := range t.LevelSizes() {
		if s > 0 {
			total += s
		}
	}
	return total
}

// WriteAmplification estimates write amplification for level-style
// compaction: min when each key is rewritten once per level, typical
// and max scaling with the level multiplier.
func (t Tuning) WriteAmplification() (min, typical, max float64) {
	n := float64(t.Compaction.NumLevels)
	m := float64(t.Compaction.Multiplier)
	return n, (n - 1) * m / 2, (n - 1) * m
}

// CompressionFor returns the compression setting applying to the given
// table at the given level.
func (p CompressionPlan) CompressionFor(table Table, level int) CompressionSetting {
	levels := p.PerTable[table]
	best := CompressionSetting{Algorithm: CompressionNone}
	bestFrom := -1
	for _, lc := range levels {
		if lc.FromLevel <= level && lc.FromLevel > bestFrom {
			best = lc.Setting
			bestFrom = lc.FromLevel
		}
	}
	return best
}

// Summary renders the tuning in a human-readable form.
func (t Tuning) Summary() string {
	var b strings.Builder
	c := t.Compaction
	fmt.Fprintf(&b, "tuning %q: %s compaction, %d levels, base %s x%d\n",
		t.Name, c.Style, c.NumLevels, humanBytes(c.BaseLevelSize), c.Multiplier)
	fmt.Fprintf(&b, "  L0 triggers: compact at %d, slow down at %d, stop at %d\n",
		c.CompactionTrigger, c.SlowdownTrigger, c.StopTrigger)
	if c.RateLimitBytes > 0 {
		fmt.Fprintf(&b, "  rate limit: %s/s\n", humanBytes(c.RateLimitBytes))
	}
	wmin, wtyp, wmax := t.WriteAmplification()
	fmt.Fprintf(&b, "  est. write amplification: min %.0f, typical %.0f, max %.0f\n", wmin, wtyp, wmax)
	fmt.Fprintf(&b, "  total level capacity: %s\n", humanBytes(t.TotalCapacity()))

	tables := make([]string, 0, len(t.Tables))
	for name := range t.Tables {
		tables = append(tables, string(name))
	}
	sort.Strings(tables)
	for _, name := range tables {
		tp := t.Tables[Table(name)]
		fmt.Fprintf(&b, "  table %s: block %s, bloom %d bits/key", name, humanBytes(int64(tp.BlockSize)), tp.BloomBitsPerKey)
		if tp.PrefixLength > 0 {
			fmt.Fprintf(&b, ", prefix %dB", tp.PrefixLength)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.0fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.0fKiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}

// badgerOptions maps the tuning onto badger's option surface. Badger
// has one physical keyspace, so per-table block settings collapse to
// the most demanding table: smallest block size, most bloom bits.
// Badger supports none, snappy and zstd; lz4 plans map to snappy.
func (t Tuning) badgerOptions(path string) badger.Options {
	c := t.Compaction
	opts := badger.DefaultOptions(path).
		WithNumLevelZeroTables(c.CompactionTrigger).
		WithNumLevelZeroTablesStall(c.StopTrigger).
		WithBaseLevelSize(c.BaseLevelSize).
		WithLevelSizeMultiplier(c.Multiplier).
		WithMaxLevels(c.NumLevels).
		WithNumCompactors(c.MaxBackgroundCompactions).
		WithMemTableSize(c.WriteBufferSize).
		WithNumMemtables(c.MaxWriteBuffers).
		WithBaseTableSize(c.TargetFileSizeBase)

	blockSize := maxBlockSize
	bloomBits := 0
	bottomMost := CompressionSetting{Algorithm: CompressionNone}
	for name, tp := range t.Tables {
		if tp.BlockSize < blockSize {
			blockSize = tp.BlockSize
		}
		if tp.BloomBitsPerKey > bloomBits {
			bloomBits = tp.BloomBitsPerKey
		}
		s := t.Compression.CompressionFor(name, c.NumLevels-1)
		if rankCompression(s.Algorithm) > rankCompression(bottomMost.Algorithm) {
			bottomMost = s
		}
	}
	opts = opts.WithBlockSize(blockSize)
	if bloomBits > 0 {
		// badger takes a false-positive rate; p ~= 0.6185^bits.
		opts = opts.WithBloomFalsePositive(math.Pow(0.6185, float64(bloomBits)))
	}
	switch bottomMost.Algorithm {
	case CompressionNone:
		opts = opts.WithCompression(options.None)
	case CompressionSnappy, CompressionLZ4, CompressionLZ4HC:
		opts = opts.WithCompression(options.Snappy)
	case CompressionZSTD:
		opts = opts.WithCompression(options.ZSTD).WithZSTDCompressionLevel(bottomMost.Level)
	}
	return opts
}

func rankCompression(c Compression) int {
	switch c {
	case CompressionNone:
		return 0
	case CompressionSnappy:
		return 1
	case CompressionLZ4:
		return 2
	case CompressionLZ4HC:
		return 3
	case CompressionZSTD:
		return 4
	}
	return -1
}

// Runtime-mutable options, passed as string key-value pairs. Any key
// outside this set is rejected.
var runtimeMutable = map[string]struct{}{
	"level0_file_num_compaction_trigger": {},
	"level0_slowdown_writes_trigger":     {},
	"level0_stop_writes_trigger":         {},
	"target_file_size_base":              {},
	"max_bytes_for_level_base":           {},
	"write_buffer_size":                  {},
	"max_write_buffer_number":            {},
	"disable_auto_compactions":           {},
}

// SetOptions validates and records runtime option overrides. Values
// must parse as integers ("disable_auto_compactions" as 0 or 1).
// Overrides are kept in memory on this handle and returned by
// RuntimeOptions; they are not applied to the running badger instance,
// not persisted, and not read by Open.
func (db *DB) SetOptions(opts map[string]string) error {
	if db.closed.Load() {
		return ErrClosed
	}
	for k, v := range opts {
		if _, ok := runtimeMutable[k]; !ok {
			return fmt.Errorf("kv: set options: %q is not runtime-mutable", k)
		}
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("kv: set options: %s: %q is not an integer", k, v)
		}
		if k == "disable_auto_compactions" && v != "0" && v != "1" {
			return fmt.Errorf("kv: set options: %s: %q is not 0 or 1", k, v)
		}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for k, v := range opts {
		db.runtime[k] = v
		db.log.Info("runtime option set", zap.String("key", k), zap.String("value", v))
	}
	return nil
}

// RuntimeOptions returns a copy of the recorded runtime overrides.
func (db *DB) RuntimeOptions() map[string]string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make(map[string]string, len(db.runtime))
	for k, v := range db.runtime {
		out[k] = v
	}
	return out
}
