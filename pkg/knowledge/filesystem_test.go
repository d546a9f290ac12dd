package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeUnitFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s failed: %v", name, err)
	}
	return path
}

func newTestFilesystemIndex(t *testing.T) (*FilesystemIndex, string) {
	t.Helper()
	dir := t.TempDir()
	writeUnitFile(t, dir, "fine-tuning.md",
		"# Fine-tuning\nTags: ml, training\n\nLow-rank adapters update a small matrix.\n")
	writeUnitFile(t, dir, "rag.md",
		"# RAG\nTags: ml, backend\n\nChunk, embed, retrieve, generate.\n")
	writeUnitFile(t, dir, "notes.txt", "not a knowledge unit")

	idx, err := NewFilesystemIndex(dir)
	if err != nil {
		t.Fatalf("NewFilesystemIndex failed: %v", err)
	}
	return idx, dir
}

func TestFilesystemIndexScansMarkdownOnly(t *testing.T) {
	idx, _ := newTestFilesystemIndex(t)

	if idx.Count() != 2 {
		t.Errorf("Count() = %d, want 2", idx.Count())
	}
	if !idx.Has("fine-tuning") || !idx.Has("rag") {
		t.Error("expected both markdown units to be indexed")
	}
	if idx.Has("notes") {
		t.Error("non-markdown file must not be indexed")
	}
}

func TestFilesystemIndexParsesHeader(t *testing.T) {
	idx, _ := newTestFilesystemIndex(t)

	units, err := idx.Search("training", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("expected 1 result, got %d", len(units))
	}
	u := units[0]
	if u.DisplayName != "Fine-tuning" {
		t.Errorf("DisplayName = %q, want from heading", u.DisplayName)
	}
	if len(u.Tags) != 2 || u.Tags[0] != "ml" || u.Tags[1] != "training" {
		t.Errorf("Tags = %v, want [ml training]", u.Tags)
	}
	if u.Summary != "Low-rank adapters update a small matrix." {
		t.Errorf("Summary = %q, want first paragraph", u.Summary)
	}
}

func TestFilesystemIndexLoadContentStripsHeader(t *testing.T) {
	idx, _ := newTestFilesystemIndex(t)

	content, err := idx.LoadContent([]string{"fine-tuning"})
	if err != nil {
		t.Fatalf("LoadContent failed: %v", err)
	}
	if !strings.HasPrefix(content, "## Fine-tuning\n\n") {
		t.Errorf("content should start with the re-added heading:\n%s", content)
	}
	if strings.Contains(content, "Tags:") {
		t.Errorf("Tags line should be stripped from content:\n%s", content)
	}
	if !strings.Contains(content, "Low-rank adapters update a small matrix.") {
		t.Errorf("body missing from content:\n%s", content)
	}
}

func TestFilesystemIndexCachesContent(t *testing.T) {
	idx, dir := newTestFilesystemIndex(t)

	first, err := idx.LoadContent([]string{"rag"})
	if err != nil {
		t.Fatalf("LoadContent failed: %v", err)
	}

	// A rewrite on disk must not change what the cache serves.
	writeUnitFile(t, dir, "rag.md", "# RAG\n\nrewritten body\n")

	second, err := idx.LoadContent([]string{"rag"})
	if err != nil {
		t.Fatalf("cached LoadContent failed: %v", err)
	}
	if first != second {
		t.Errorf("cache miss on second load:\nfirst: %s\nsecond: %s", first, second)
	}
}

func TestFilesystemIndexMaxSize(t *testing.T) {
	dir := t.TempDir()
	writeUnitFile(t, dir, "huge.md", "# Huge\n\n"+strings.Repeat("x", 256)+"\n")

	idx, err := NewFilesystemIndex(dir, WithMaxSize(64))
	if err != nil {
		t.Fatalf("NewFilesystemIndex failed: %v", err)
	}
	if idx.Has("huge") {
		t.Error("oversized file must be skipped")
	}
}

func TestFilesystemIndexMissingDirectory(t *testing.T) {
	if _, err := NewFilesystemIndex(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestFilesystemIndexCompressedIndex(t *testing.T) {
	idx, _ := newTestFilesystemIndex(t)

	lines := strings.Split(idx.CompressedIndex(), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "fine-tuning: ml, training" {
		t.Errorf("unexpected first line: %q", lines[0])
	}
}
