// Package backup runs one bulk configuration backup: it fans targets out over
// a bounded worker pool, classifies what happened to each host and folds the
// per-host outcomes into a run summary.
package backup

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lance0/HostHoover/internal/device"
)

// Status is the terminal classification of one target.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusUnreachable  Status = "unreachable"
	StatusAuthFailed   Status = "auth_failed"
	StatusTimeout      Status = "timeout"
	StatusBackupFailed Status = "backup_failed"
	StatusWriteError   Status = "write_error"
	// StatusCancelled marks targets that were never dispatched because the
	// run was cancelled.
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in report order.
var Statuses = []Status{
	StatusSuccess,
	StatusUnreachable,
	StatusAuthFailed,
	StatusTimeout,
	StatusBackupFailed,
	StatusWriteError,
	StatusCancelled,
}

var (
	ErrUnreachable = errors.New("host unreachable")
	ErrWrite       = errors.New("write failed")
)

// Outcome is produced exactly once per target by the task that owns it.
type Outcome struct {
	Target   string
	Status   Status
	Hostname string
	Path     string
	Err      error
	Duration time.Duration
}

func (o Outcome) String() string {
	switch {
	case o.Status == StatusSuccess:
		return fmt.Sprintf("%s: %s (%s)", o.Target, strings.ToUpper(string(o.Status)), o.Path)
	case o.Err != nil:
		return fmt.Sprintf("%s: %s: %v", o.Target, strings.ToUpper(string(o.Status)), o.Err)
	default:
		return fmt.Sprintf("%s: %s", o.Target, strings.ToUpper(string(o.Status)))
	}
}

// statusFor maps a session error onto its status.
func statusFor(err error) Status {
	switch {
	case errors.Is(err, device.ErrAuthentication):
		return StatusAuthFailed
	case errors.Is(err, device.ErrSessionTimeout):
		return StatusTimeout
	default:
		return StatusBackupFailed
	}
}

// Summary aggregates one run. Counts always add up to Total.
type Summary struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Total    int
	Counts   map[Status]int

	ArchivePath  string
	ArchiveFiles int
	ArchiveErr   error

	PublishedPath string
	PublishErr    error
}

func newSummary(runID string, total int, started time.Time) Summary {
	return Summary{RunID: runID, Total: total, Started: started, Counts: make(map[Status]int, len(Statuses))}
}

func (s Summary) Count(st Status) int { return s.Counts[st] }

// Failed counts every target that did not end in success.
func (s Summary) Failed() int { return s.Total - s.Counts[StatusSuccess] }

func (s Summary) Duration() time.Duration { return s.Finished.Sub(s.Started) }
