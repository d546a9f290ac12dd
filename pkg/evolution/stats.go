package evolution

import (
	"sort"
	"strings"
	"sync"
)

// Stat counts outcomes for one key: a single knowledge unit id or an
// id-set key.
type Stat struct {
	Total     int `json:"total"`
	Successes int `json:"successes"`
}

// SuccessRate returns successes over total, 0 when empty.
func (s Stat) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Total)
}

// Stats accumulates routing outcomes per knowledge unit and per unit set.
// All mutation goes through Record under the lock; readers take immutable
// snapshots.
type Stats struct {
	mu    sync.RWMutex
	units map[string]Stat
	sets  map[string]Stat
}

// NewStats creates an empty accumulator.
func NewStats() *Stats {
	return &Stats{
		units: make(map[string]Stat),
		sets:  make(map[string]Stat),
	}
}

// Record counts one outcome against every involved unit and against the
// set as a whole. Returns the updated set stat.
func (s *Stats) Record(ids []string, success bool) Stat {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		st := s.units[id]
		st.Total++
		if success {
			st.Successes++
		}
		s.units[id] = st
	}

	key := IDSetKey(ids)
	st := s.sets[key]
	st.Total++
	if success {
		st.Successes++
	}
	s.sets[key] = st
	return st
}

// seed restores counts loaded from the store.
func (s *Stats) seed(units, sets map[string]Stat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range units {
		s.units[k] = v
	}
	for k, v := range sets {
		s.sets[k] = v
	}
}

// Snapshot returns an immutable copy of the current counts.
func (s *Stats) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Units: make(map[string]Stat, len(s.units)),
		Sets:  make(map[string]Stat, len(s.sets)),
	}
	for k, v := range s.units {
		snap.Units[k] = v
	}
	for k, v := range s.sets {
		snap.Sets[k] = v
	}
	return snap
}

// Snapshot is a point-in-time view of routing statistics. It satisfies the
// router's StatsView.
type Snapshot struct {
	Units map[string]Stat `json:"units"`
	Sets  map[string]Stat `json:"sets"`
}

// SuccessRate reports the observed rate for a knowledge unit id.
func (s *Snapshot) SuccessRate(id string) (float64, int, bool) {
	st, ok := s.Units[id]
	if !ok {
		return 0, 0, false
	}
	return st.SuccessRate(), st.Total, true
}

// SetRate reports the observed rate for an id-set key.
func (s *Snapshot) SetRate(key string) (float64, int, bool) {
	st, ok := s.Sets[key]
	if !ok {
		return 0, 0, false
	}
	return st.SuccessRate(), st.Total, true
}

// IDSetKey is the canonical key for a knowledge id set: sorted, joined
// with commas. Order of ids in the decision does not matter.
func IDSetKey(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
