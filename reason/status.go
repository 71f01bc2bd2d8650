package reason

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/boutros/mimir/kv"
)

// State is the lifecycle state of the materialization.
type State string

const (
	StateInitialized  State = "initialized"
	StateMaterialized State = "materialized"
	StateStale        State = "stale"
	StateError        State = "error"
)

// Status is the persisted metadata about the last (re)materialization.
type Status struct {
	State                State     `json:"state"`
	Profile              Profile   `json:"profile"`
	Mode                 string    `json:"mode"`
	DerivedCount         int64     `json:"derived_count"`
	ExplicitCount        int64     `json:"explicit_count"`
	TotalCount           int64     `json:"total_count"`
	LastMaterialization  time.Time `json:"last_materialization"`
	MaterializationCount int64     `json:"materialization_count"`
	LastStats            *Stats    `json:"last_materialization_stats,omitempty"`
	Error                string    `json:"error,omitempty"`
}

// StatusStore persists the Status under a key derived from the store
// path, so multiple stores sharing a backend directory layout cannot
// collide.
type StatusStore struct {
	db  *kv.DB
	key []byte
}

// NewStatusStore returns a StatusStore for the store at path.
func NewStatusStore(db *kv.DB, path string) *StatusStore {
	key := fmt.Sprintf("__reasoning_status__%016x", xxhash.Sum64String(path))
	return &StatusStore{db: db, key: []byte(key)}
}

// Load returns the persisted status, or a zero-valued default in state
// initialized when none was ever saved.
func (s *StatusStore) Load() (Status, error) {
	v, err := s.db.Get(kv.Default, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return Status{State: StateInitialized}, nil
	}
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(v, &st); err != nil {
		return Status{}, fmt.Errorf("reason: decode status: %w", err)
	}
	return st, nil
}

// Save persists the status.
func (s *StatusStore) Save(st Status) error {
	v, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("reason: encode status: %w", err)
	}
	return s.db.Put(kv.Default, s.key, v)
}

// MarkMaterialized records a successful materialization.
func (s *StatusStore) MarkMaterialized(profile Profile, mode string, derived, explicit int64, stats Stats, now time.Time) error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	st.State = StateMaterialized
	st.Profile = profile
	st.Mode = mode
	st.DerivedCount = derived
	st.ExplicitCount = explicit
	st.TotalCount = derived + explicit
	st.LastMaterialization = now.UTC()
	st.MaterializationCount++
	st.LastStats = &stats
	st.Error = ""
	return s.Save(st)
}

// MarkStale records a TBox change invalidating the materialization.
func (s *StatusStore) MarkStale() error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	st.State = StateStale
	return s.Save(st)
}

// MarkError records a failed materialization. The error state is
// retained until the next successful materialize.
func (s *StatusStore) MarkError(cause error) error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	st.State = StateError
	st.Error = cause.Error()
	return s.Save(st)
}

// NeedsRematerialization reports whether the closure must be rebuilt
// before serving inference-dependent queries under the given profile.
func (st Status) NeedsRematerialization(profile Profile) bool {
	switch st.State {
	case StateInitialized, StateStale, StateError:
		return true
	}
	return st.Profile != profile
}
