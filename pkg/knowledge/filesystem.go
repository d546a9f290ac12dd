package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FilesystemIndex loads knowledge units from a directory of markdown files.
// Each <id>.md contributes one unit: the first heading becomes the display
// name, an optional "Tags:" line lists tags, and the body is the content.
// Content is fetched lazily and cached; cache entries are immutable once
// populated, so concurrent readers need no synchronization beyond the
// insert path.
type FilesystemIndex struct {
	basePath string
	maxSize  int64

	metaMu sync.RWMutex
	meta   map[string]fileMeta

	cacheMu sync.Mutex
	cache   map[string]string
}

type fileMeta struct {
	unit Unit
	path string
}

// FilesystemOption configures a FilesystemIndex.
type FilesystemOption func(*FilesystemIndex)

// WithMaxSize sets the maximum file size to read.
func WithMaxSize(max int64) FilesystemOption {
	return func(f *FilesystemIndex) {
		f.maxSize = max
	}
}

// NewFilesystemIndex scans basePath for *.md files and indexes their
// metadata. Content is not read until LoadContent asks for it.
func NewFilesystemIndex(basePath string, opts ...FilesystemOption) (*FilesystemIndex, error) {
	f := &FilesystemIndex{
		basePath: basePath,
		maxSize:  1024 * 1024,
		meta:     make(map[string]fileMeta),
		cache:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}

	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge directory %s: %w", basePath, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() > f.maxSize {
			continue
		}
		path := filepath.Join(basePath, entry.Name())
		id := strings.TrimSuffix(entry.Name(), ".md")
		unit, err := parseHeader(id, path)
		if err != nil {
			continue // Skip unreadable files
		}
		f.meta[id] = fileMeta{unit: unit, path: path}
	}

	return f, nil
}

// Search returns up to k units ranked by relevance to the query.
func (f *FilesystemIndex) Search(query string, k int) ([]Unit, error) {
	f.metaMu.RLock()
	defer f.metaMu.RUnlock()
	return rankUnits(f.ordered(), query, k), nil
}

// LoadContent returns the concatenated content for the given ids, reading
// through the cache.
func (f *FilesystemIndex) LoadContent(ids []string) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		f.metaMu.RLock()
		m, ok := f.meta[id]
		f.metaMu.RUnlock()
		if !ok {
			continue
		}

		content, err := f.contentFor(id, m.path)
		if err != nil {
			return "", fmt.Errorf("failed to load knowledge unit %s: %w", id, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(m.unit.DisplayName)
		sb.WriteString("\n\n")
		sb.WriteString(content)
	}
	return sb.String(), nil
}

// CompressedIndex returns one line per unit.
func (f *FilesystemIndex) CompressedIndex() string {
	f.metaMu.RLock()
	defer f.metaMu.RUnlock()

	lines := make([]string, 0, len(f.meta))
	for _, u := range f.ordered() {
		lines = append(lines, compressLine(u))
	}
	return strings.Join(lines, "\n")
}

// Has reports whether a unit id is known.
func (f *FilesystemIndex) Has(id string) bool {
	f.metaMu.RLock()
	defer f.metaMu.RUnlock()
	_, ok := f.meta[id]
	return ok
}

// Count returns the number of indexed units.
func (f *FilesystemIndex) Count() int {
	f.metaMu.RLock()
	defer f.metaMu.RUnlock()
	return len(f.meta)
}

func (f *FilesystemIndex) contentFor(id, path string) (string, error) {
	f.cacheMu.Lock()
	if content, ok := f.cache[id]; ok {
		f.cacheMu.Unlock()
		return content, nil
	}
	f.cacheMu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := stripHeader(string(data))

	f.cacheMu.Lock()
	// First writer wins; entries are immutable afterward.
	if existing, ok := f.cache[id]; ok {
		content = existing
	} else {
		f.cache[id] = content
	}
	f.cacheMu.Unlock()

	return content, nil
}

func (f *FilesystemIndex) ordered() []Unit {
	out := make([]Unit, 0, len(f.meta))
	for _, m := range f.meta {
		out = append(out, m.unit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// parseHeader reads only the leading lines of a unit file: heading, tags
// and the first non-empty paragraph as summary.
func parseHeader(id, path string) (Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Unit{}, err
	}

	unit := Unit{ID: id, DisplayName: id}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "# "):
			unit.DisplayName = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		case strings.HasPrefix(trimmed, "Tags:"):
			for _, tag := range strings.Split(strings.TrimPrefix(trimmed, "Tags:"), ",") {
				if t := strings.TrimSpace(tag); t != "" {
					unit.Tags = append(unit.Tags, strings.ToLower(t))
				}
			}
		case trimmed != "" && unit.Summary == "" && !strings.HasPrefix(trimmed, "#"):
			unit.Summary = trimmed
		}
		if unit.Summary != "" && len(unit.Tags) > 0 {
			break
		}
	}

	return unit, nil
}

// stripHeader removes the heading and Tags line so LoadContent returns the
// body only; the display name is re-added by the caller.
func stripHeader(content string) string {
	lines := strings.Split(content, "\n")
	var kept []string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i < 5 && (strings.HasPrefix(trimmed, "# ") || strings.HasPrefix(trimmed, "Tags:")) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
