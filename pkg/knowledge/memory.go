package knowledge

import (
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is an in-process index, used for tests and embedded setups.
type MemoryIndex struct {
	mu    sync.RWMutex
	units map[string]Unit
}

// NewMemoryIndex creates an index from the given units.
func NewMemoryIndex(units ...Unit) *MemoryIndex {
	m := &MemoryIndex{units: make(map[string]Unit, len(units))}
	for _, u := range units {
		m.units[u.ID] = u
	}
	return m
}

// Add inserts or replaces a unit.
func (m *MemoryIndex) Add(u Unit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[u.ID] = u
}

// Search returns up to k units ranked by relevance to the query.
func (m *MemoryIndex) Search(query string, k int) ([]Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rankUnits(m.ordered(), query, k), nil
}

// LoadContent returns the concatenated content for the given ids.
func (m *MemoryIndex) LoadContent(ids []string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sb strings.Builder
	for _, id := range ids {
		u, ok := m.units[id]
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(u.DisplayName)
		sb.WriteString("\n\n")
		sb.WriteString(u.Content)
	}
	return sb.String(), nil
}

// CompressedIndex returns one line per unit.
func (m *MemoryIndex) CompressedIndex() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lines := make([]string, 0, len(m.units))
	for _, u := range m.ordered() {
		lines = append(lines, compressLine(u))
	}
	return strings.Join(lines, "\n")
}

// Has reports whether a unit id is known.
func (m *MemoryIndex) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.units[id]
	return ok
}

func (m *MemoryIndex) ordered() []Unit {
	out := make([]Unit, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
