// Package store persists retrieved configurations under the run's output
// directory.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	Suffix          = ".cfg"
	TimestampLayout = "20060102-150405"
)

// ErrExist is returned by Write when the file name is already taken.
var ErrExist = fs.ErrExist

// Writer writes whole files into one directory. It is safe for concurrent use
// as long as callers write distinct names; a name collision fails with ErrExist
// rather than overwriting.
type Writer struct {
	dir string

	mu      sync.Mutex
	created bool
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Dir() string { return w.dir }

// EnsureDir creates the output directory if needed. Concurrent callers and an
// already existing directory are both fine.
func (w *Writer) EnsureDir() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.created {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		// Another process may have raced us to it.
		if info, statErr := os.Stat(w.dir); statErr != nil || !info.IsDir() {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	w.created = true
	return nil
}

// Write stores content as filename inside the directory and returns the path.
// Either the complete content ends up on disk or no file is left behind.
func (w *Writer) Write(filename, content string) (path string, err error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid file name %q", filename)
	}
	if err := w.EnsureDir(); err != nil {
		return "", err
	}

	path = filepath.Join(w.dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
			path = ""
		}
	}()

	if _, err = f.WriteString(content); err != nil {
		return path, fmt.Errorf("write %s: %w", filename, err)
	}
	if err = f.Sync(); err != nil {
		return path, fmt.Errorf("sync %s: %w", filename, err)
	}
	return path, nil
}

// FileName is the preferred name for a backup taken at ts.
func FileName(safeName string, ts time.Time) string {
	return safeName + "_" + ts.Format(TimestampLayout) + Suffix
}

// Candidates lists the names tried in order for one backup: the plain name,
// then the name qualified by the target address, then numbered variants of
// the qualified name.
func Candidates(safeName, safeAddr string, ts time.Time, n int) []string {
	base := safeName + "_" + ts.Format(TimestampLayout)
	out := []string{base + Suffix}
	if safeAddr != "" && safeAddr != safeName {
		base = base + "_" + safeAddr
		out = append(out, base+Suffix)
	}
	for i := 2; len(out) < n; i++ {
		out = append(out, fmt.Sprintf("%s_%d%s", base, i, Suffix))
	}
	return out
}

// WriteUnique writes content under the first free name from candidates.
func (w *Writer) WriteUnique(candidates []string, content string) (string, error) {
	var lastErr error
	for _, name := range candidates {
		path, err := w.Write(name, content)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, ErrExist) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("no free file name among %s: %w", strings.Join(candidates, ", "), lastErr)
}
