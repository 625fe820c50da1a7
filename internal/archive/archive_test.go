package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedArchiver() *Archiver {
	a := New()
	a.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return a
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("config of "+n), 0o644))
	}
}

func zipEntries(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		assert.Equal(t, zip.Deflate, f.Method, f.Name)
		names = append(names, filepath.Base(f.Name))
	}
	sort.Strings(names)
	return names
}

func TestArchive_Zip(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "R1_20240506-070000.cfg", "SW1_20240506-070001.cfg", "status.log", "notes.txt")

	path, n, err := fixedArchiver().Archive(context.Background(), dir, "zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "hosthoover_backup_20240506-070809.zip"), path)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"R1_20240506-070000.cfg", "SW1_20240506-070001.cfg"}, zipEntries(t, path))
}

func TestArchive_ZipEmpty(t *testing.T) {
	dir := t.TempDir()
	path, n, err := fixedArchiver().Archive(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, zipEntries(t, path))
}

func TestArchive_TarGz(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "R1.cfg")

	path, n, err := fixedArchiver().Archive(context.Background(), dir, "tgz")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ".gz", filepath.Ext(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "R1.cfg", filepath.Base(hdr.Name))
	body, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "config of R1.cfg", string(body))
}

func TestArchive_Unsupported(t *testing.T) {
	for _, format := range []string{"7z", "arj", "bzip"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, "R1.cfg")

			_, _, err := fixedArchiver().Archive(context.Background(), dir, format)
			assert.ErrorIs(t, err, ErrUnsupportedFormat)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "no partial archive may be written")
		})
	}
}

func TestArchive_RarMissingBinary(t *testing.T) {
	a := fixedArchiver()
	a.lookPath = func(string) (string, error) { return "", errors.New("executable file not found in $PATH") }

	assert.ErrorIs(t, a.Supported("rar"), ErrUnsupportedFormat)
	_, _, err := a.Archive(context.Background(), t.TempDir(), "rar")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestArchive_RarFailure(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "R1.cfg")

	a := fixedArchiver()
	a.lookPath = func(string) (string, error) { return "/usr/bin/rar", nil }
	var gotArgs []string
	a.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		// Simulate rar leaving a half-written archive behind.
		require.NoError(t, os.WriteFile(args[3], []byte("partial"), 0o644))
		return []byte("Cannot create archive: disk full"), errors.New("exit status 5")
	}

	_, _, err := a.Archive(context.Background(), dir, "rar")
	require.ErrorIs(t, err, ErrArchive)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"rar", "a", "-ep1", "-idq", filepath.Join(dir, "hosthoover_backup_20240506-070809.rar"), filepath.Join(dir, "R1.cfg")}, gotArgs)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestArchive_RarSuccess(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "R1.cfg", "R2.cfg")

	a := fixedArchiver()
	a.lookPath = func(string) (string, error) { return "/usr/bin/rar", nil }
	a.run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		return nil, os.WriteFile(args[3], []byte("Rar!"), 0o644)
	}

	path, n, err := a.Archive(context.Background(), dir, "RAR")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.FileExists(t, path)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Zip, Normalize(""))
	assert.Equal(t, Zip, Normalize(".ZIP"))
	assert.Equal(t, TarGz, Normalize("tgz"))
	assert.Equal(t, SevenZip, Normalize("7zip"))
	assert.Equal(t, "rar", Normalize(" rar "))
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "b.cfg", "a.cfg", "c.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.cfg"), 0o755))

	files, err := Snapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.cfg"), filepath.Join(dir, "b.cfg")}, files)
}
