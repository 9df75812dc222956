package fsstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadWriteJSONAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	type payload struct {
		Name string `json:"name"`
	}
	in := payload{Name: "alpha"}
	if err := WriteJSONAtomic(path, in, Options{}); err != nil {
		t.Fatalf("WriteJSONAtomic() error = %v", err)
	}

	var out payload
	found, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !found {
		t.Fatal("ReadJSON() found = false, want true")
	}
	if out != in {
		t.Fatalf("ReadJSON() = %+v, want %+v", out, in)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	t.Parallel()

	var out map[string]any
	found, err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if found {
		t.Fatal("ReadJSON() found = true for missing file")
	}
}

func TestWriteLinesAtomicRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rows.jsonl")
	in := []string{`{"v":1}`, `{"v":2}`, `{"v":3}`}
	if err := WriteLinesAtomic(path, in, Options{}); err != nil {
		t.Fatalf("WriteLinesAtomic() error = %v", err)
	}
	got, err := ReadLines(path)
	if err != nil {
		t.Fatalf("ReadLines() error = %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("ReadLines() len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("ReadLines()[%d] = %q, want %q", i, got[i], in[i])
		}
	}
}

func TestWriteLinesAtomicRejectsNewline(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rows.jsonl")
	err := WriteLinesAtomic(path, []string{"a\nb"}, Options{})
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("WriteLinesAtomic() error = %v, want ErrInvalidPath", err)
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := WriteAtomic(path, []byte("data"), Options{}); err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.bin" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}
}
