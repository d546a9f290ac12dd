package evolution

import (
	"sync"
	"time"
)

// Feedback is one recorded user judgment of an executed decision.
type Feedback struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	Signature    string    `json:"signature"`
	Mode         string    `json:"mode"`
	KnowledgeIDs []string  `json:"knowledge_ids,omitempty"`
	WorkerIDs    []string  `json:"worker_ids,omitempty"`
	Score        int       `json:"score"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// State is everything a store holds, loaded at engine startup.
type State struct {
	Feedback  []Feedback
	UnitStats map[string]Stat
	SetStats  map[string]Stat
	Patterns  []LearnedPattern
}

// Store persists the evolution state. Implementations must keep the
// feedback log and pattern list append-only.
type Store interface {
	// AppendFeedback adds one feedback entry to the log.
	AppendFeedback(fb Feedback) error

	// SaveStat upserts one stat row. kind is "unit" or "set".
	SaveStat(kind, key string, stat Stat) error

	// InsertPattern appends a new learned pattern.
	InsertPattern(p LearnedPattern) error

	// SupersedePattern points an existing pattern at its replacement.
	SupersedePattern(oldID, newID string) error

	// Load returns the full persisted state.
	Load() (*State, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore keeps state in process. Used in tests and when persistence
// is disabled.
type MemoryStore struct {
	mu       sync.Mutex
	feedback []Feedback
	units    map[string]Stat
	sets     map[string]Stat
	patterns []LearnedPattern
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units: make(map[string]Stat),
		sets:  make(map[string]Stat),
	}
}

func (m *MemoryStore) AppendFeedback(fb Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, fb)
	return nil
}

func (m *MemoryStore) SaveStat(kind, key string, stat Stat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == "set" {
		m.sets[key] = stat
	} else {
		m.units[key] = stat
	}
	return nil
}

func (m *MemoryStore) InsertPattern(p LearnedPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, p)
	return nil
}

func (m *MemoryStore) SupersedePattern(oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.patterns {
		if m.patterns[i].ID == oldID {
			m.patterns[i].SupersededBy = newID
		}
	}
	return nil
}

func (m *MemoryStore) Load() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := &State{
		Feedback:  append([]Feedback(nil), m.feedback...),
		UnitStats: make(map[string]Stat, len(m.units)),
		SetStats:  make(map[string]Stat, len(m.sets)),
		Patterns:  append([]LearnedPattern(nil), m.patterns...),
	}
	for k, v := range m.units {
		state.UnitStats[k] = v
	}
	for k, v := range m.sets {
		state.SetStats[k] = v
	}
	return state, nil
}

func (m *MemoryStore) Close() error { return nil }
