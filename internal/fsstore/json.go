package fsstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ReadJSON decodes path into out. A missing or empty file is not an error;
// the boolean reports whether anything was loaded.
func ReadJSON(path string, out any) (bool, error) {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(normalizedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read json %s: %w", normalizedPath, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrDecodeFailed, normalizedPath, err)
	}
	return true, nil
}

func WriteJSONAtomic(path string, v any, opts Options) error {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrEncodeFailed, normalizedPath, err)
	}
	data = append(data, '\n')
	return WriteAtomic(normalizedPath, data, opts)
}

// ReadLines returns the non-blank lines of path in file order. A missing
// file yields no lines and no error.
func ReadLines(path string) ([]string, error) {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(normalizedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lines %s: %w", normalizedPath, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lines %s: %w", normalizedPath, err)
	}
	return lines, nil
}

// WriteLinesAtomic rewrites path with the given lines, one per row. Lines
// containing newlines are rejected so the file stays line-oriented.
func WriteLinesAtomic(path string, lines []string, opts Options) error {
	var b strings.Builder
	for _, line := range lines {
		if strings.ContainsRune(line, '\n') {
			return fmt.Errorf("%w: line contains newline", ErrInvalidPath)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return WriteAtomic(path, []byte(b.String()), opts)
}
