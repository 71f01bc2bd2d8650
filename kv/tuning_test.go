package kv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPresetsValidate(t *testing.T) {
	for _, name := range []string{"default", "write_heavy", "read_heavy", "balanced", "low_latency", "bulk_load"} {
		tuning, err := Preset(name)
		require.NoError(t, err, name)
		assert.NoError(t, tuning.Validate(), name)
		assert.Equal(t, name, tuning.Name)
	}
	_, err := Preset("warp_speed")
	assert.Error(t, err)
}

func TestValidateTriggerOrdering(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Compaction.CompactionTrigger = tuning.Compaction.SlowdownTrigger
	err := tuning.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}

func TestValidateBounds(t *testing.T) {
	bad := func(mutate func(*Tuning)) error {
		tuning := DefaultTuning()
		mutate(&tuning)
		return tuning.Validate()
	}

	assert.Error(t, bad(func(tu *Tuning) { tu.Compaction.Style = "magic" }))
	assert.Error(t, bad(func(tu *Tuning) { tu.Compaction.NumLevels = 0 }))
	assert.Error(t, bad(func(tu *Tuning) { tu.Compaction.RateLimitBytes = -1 }))
	assert.Error(t, bad(func(tu *Tuning) {
		tp := tu.Tables[SPO]
		tp.BloomBitsPerKey = 25
		tu.Tables[SPO] = tp
	}))
	assert.Error(t, bad(func(tu *Tuning) {
		tp := tu.Tables[SPO]
		tp.PrefixLength = 65
		tu.Tables[SPO] = tp
	}))
	assert.Error(t, bad(func(tu *Tuning) {
		tp := tu.Tables[SPO]
		tp.BlockSize = 512
		tu.Tables[SPO] = tp
	}))
	assert.Error(t, bad(func(tu *Tuning) {
		tu.Compression.PerTable[SPO] = []LevelCompression{
			{FromLevel: 1, Setting: CompressionSetting{Algorithm: CompressionZSTD, Level: 23}},
		}
	}))
	assert.Error(t, bad(func(tu *Tuning) {
		tu.Tables[Table("nope")] = TableProfile{BlockSize: 4096}
	}))

	// Rate limit zero means unlimited and is fine.
	assert.NoError(t, bad(func(tu *Tuning) { tu.Compaction.RateLimitBytes = 0 }))
}

func TestLevelSizes(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Compaction.BaseLevelSize = 100
	tuning.Compaction.Multiplier = 10
	tuning.Compaction.NumLevels = 4

	sizes := tuning.LevelSizes()
	require.Len(t, sizes, 4)
	assert.Equal(t, int64(-1), sizes[0], "L0 is bounded by file count, not bytes")
	assert.Equal(t, int64(100), sizes[1])
	assert.Equal(t, int64(1000), sizes[2])
	assert.Equal(t, int64(10000), sizes[3])
	assert.Equal(t, int64(11100), tuning.TotalCapacity())
}

func TestWriteAmplification(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Compaction.NumLevels = 7
	tuning.Compaction.Multiplier = 10
	min, typical, max := tuning.WriteAmplification()
	assert.Equal(t, 7.0, min)
	assert.Equal(t, 30.0, typical)
	assert.Equal(t, 60.0, max)
}

func TestCompressionFor(t *testing.T) {
	plan := basePlan()
	assert.Equal(t, CompressionNone, plan.CompressionFor(SPO, 0).Algorithm)
	assert.Equal(t, CompressionLZ4, plan.CompressionFor(SPO, 1).Algorithm)
	assert.Equal(t, CompressionLZ4, plan.CompressionFor(SPO, 2).Algorithm)
	assert.Equal(t, CompressionZSTD, plan.CompressionFor(SPO, 5).Algorithm)
	// A table with no plan entries defaults to none.
	assert.Equal(t, CompressionNone, plan.CompressionFor(Table("nope"), 3).Algorithm)
}

func TestSummary(t *testing.T) {
	s := DefaultTuning().Summary()
	assert.True(t, strings.Contains(s, "level compaction"))
	assert.True(t, strings.Contains(s, "spo"))
	assert.True(t, strings.Contains(s, "write amplification"))
}

func TestTuningYAMLRoundTrip(t *testing.T) {
	tuning := WriteHeavyTuning()
	data, err := yaml.Marshal(tuning)
	require.NoError(t, err)

	var back Tuning
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, tuning.Name, back.Name)
	assert.Equal(t, tuning.Compaction, back.Compaction)
	assert.Equal(t, tuning.Tables, back.Tables)
	assert.NoError(t, back.Validate())
}
