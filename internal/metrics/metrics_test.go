package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance0/HostHoover/internal/backup"
)

func summary() backup.Summary {
	started := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	return backup.Summary{
		RunID:    "run-1",
		Started:  started,
		Finished: started.Add(90 * time.Second),
		Total:    4,
		Counts: map[backup.Status]int{
			backup.StatusSuccess:     1,
			backup.StatusUnreachable: 2,
			backup.StatusAuthFailed:  1,
		},
		ArchivePath:  "/b/hosthoover_backup_20240601-123000.zip",
		ArchiveFiles: 1,
	}
}

func TestRun_Observe(t *testing.T) {
	r := NewRun()
	r.Observe(summary())

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Hosts.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Hosts.WithLabelValues("unreachable")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.Hosts.WithLabelValues("timeout")))
	assert.Equal(t, len(backup.Statuses), testutil.CollectAndCount(r.Hosts))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.Targets))
	assert.Equal(t, 90.0, testutil.ToFloat64(r.Duration))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ArchiveSuccess))
}

func TestRun_ObserveArchiveFailure(t *testing.T) {
	s := summary()
	s.ArchivePath, s.ArchiveErr = "", errors.New("boom")

	r := NewRun()
	r.Observe(s)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ArchiveSuccess))
}

func TestRun_WriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosthoover.prom")
	r := NewRun()
	r.Observe(summary())
	require.NoError(t, r.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `hosthoover_hosts{status="success"} 1`)
	assert.Contains(t, text, `hosthoover_hosts{status="auth_failed"} 1`)
	assert.Contains(t, text, "hosthoover_run_duration_seconds 90")
	assert.Contains(t, text, "hosthoover_archive_success 1")
}

func TestRun_WriteTextfileBadDir(t *testing.T) {
	r := NewRun()
	err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
	assert.ErrorContains(t, err, "write metrics")
}
