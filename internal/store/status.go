package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const StatusLogName = "status.log"

// StatusLog appends one timestamped line per host event to status.log in the
// output directory.
type StatusLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewStatusLog(dir string) *StatusLog {
	return &StatusLog{path: filepath.Join(dir, StatusLogName), now: time.Now}
}

func (l *StatusLog) Path() string { return l.path }

func (l *StatusLog) Log(message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	timestamp := l.now().Format("2006-01-02 15:04:05 MST")
	_, err = fmt.Fprintf(f, "%s - %s\n", timestamp, message)
	return err
}
