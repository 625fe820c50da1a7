// Package archive bundles the configuration files of a run into one artifact.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mholt/archiver"

	"github.com/lance0/HostHoover/internal/store"
)

const DefaultPrefix = "hosthoover_backup"

// Supported formats. Zip is always available; rar needs the rar binary on PATH.
const (
	Zip      = "zip"
	TarGz    = "tar.gz"
	Rar      = "rar"
	SevenZip = "7z"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrArchive           = errors.New("archive failed")
)

type streamWriter interface {
	Write(output io.Writer, filePaths []string) error
}

// Archiver writes run archives named <Prefix>_<timestamp>.<ext>.
type Archiver struct {
	Prefix string

	now      func() time.Time
	lookPath func(file string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func New() *Archiver {
	return &Archiver{
		Prefix:   DefaultPrefix,
		now:      time.Now,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Normalize maps accepted spellings onto the format constants.
func Normalize(format string) string {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	switch f {
	case "", "zip":
		return Zip
	case "tgz", "targz", "tar.gz":
		return TarGz
	case "7zip", "7z":
		return SevenZip
	default:
		return f
	}
}

// Supported reports whether format can be produced on this machine. It fails
// with ErrUnsupportedFormat otherwise, without touching the filesystem.
func (a *Archiver) Supported(format string) error {
	switch f := Normalize(format); f {
	case Zip, TarGz:
		return nil
	case Rar:
		if _, err := a.lookPath("rar"); err != nil {
			return fmt.Errorf("%w: rar: the rar binary is not installed: %v", ErrUnsupportedFormat, err)
		}
		return nil
	case SevenZip:
		return fmt.Errorf("%w: 7z: no 7z writer is available", ErrUnsupportedFormat)
	default:
		return fmt.Errorf("%w: %q (use zip, tar.gz or rar)", ErrUnsupportedFormat, format)
	}
}

// Snapshot lists the backup files present in dir right now, sorted by name.
func Snapshot(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), store.Suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// Archive bundles every backup file in dir into one archive written to dir
// and returns its path and the number of files it holds. On failure no
// partial archive is left behind.
func (a *Archiver) Archive(ctx context.Context, dir, format string) (string, int, error) {
	f := Normalize(format)
	if err := a.Supported(f); err != nil {
		return "", 0, err
	}
	files, err := Snapshot(dir)
	if err != nil {
		return "", 0, fmt.Errorf("%w: list %s: %v", ErrArchive, dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s", a.Prefix, a.now().Format(store.TimestampLayout), f))
	switch f {
	case Zip:
		err = writeStream(path, archiver.Zip, files)
	case TarGz:
		err = writeStream(path, archiver.TarGz, files)
	case Rar:
		err = a.writeRar(ctx, path, files)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}
	return path, len(files), nil
}

func writeStream(path string, w streamWriter, files []string) (err error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchive, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", ErrArchive, cerr)
		}
	}()
	if err := w.Write(out, files); err != nil {
		return fmt.Errorf("%w: %v", ErrArchive, err)
	}
	return nil
}

func (a *Archiver) writeRar(ctx context.Context, path string, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: rar: no backup files to add", ErrArchive)
	}
	args := append([]string{"a", "-ep1", "-idq", path}, files...)
	out, err := a.run(ctx, "rar", args...)
	if err == nil {
		return nil
	}
	detail := strings.TrimSpace(string(out))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: rar exited with status %d: %s", ErrArchive, exitErr.ExitCode(), detail)
	}
	return fmt.Errorf("%w: rar: %v: %s", ErrArchive, err, detail)
}
