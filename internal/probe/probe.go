// Package probe implements the cheap liveness checks that gate a device session.
package probe

import (
	"context"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

const (
	DefaultAttempts = 2
	DefaultTimeout  = time.Second
)

// Prober reports whether address looks alive. A false result means a full
// session attempt is not worth its cost; a true result guarantees nothing.
type Prober interface {
	Probe(ctx context.Context, address string) bool
}

// Runner runs an external program and reports whether it exited cleanly along
// with whatever it printed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (ok bool, output string)
}

// ExecRunner runs programs with os/exec. Arguments are passed as argv, never
// through a shell.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (bool, string) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return false, string(out) + err.Error()
	}
	return true, string(out)
}

// Pinger probes with the system ping binary, one echo request per attempt.
type Pinger struct {
	Attempts int
	Timeout  time.Duration
	Runner   Runner

	goos string
}

func NewPinger(attempts int, timeout time.Duration) *Pinger {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pinger{Attempts: attempts, Timeout: timeout, Runner: ExecRunner{}, goos: runtime.GOOS}
}

func (p *Pinger) Probe(ctx context.Context, address string) bool {
	args := pingArgs(p.goos, address, p.Timeout)
	for i := 0; i < p.Attempts; i++ {
		if ctx.Err() != nil {
			return false
		}
		// The grace second lets ping report its own timeout before we kill it.
		actx, cancel := context.WithTimeout(ctx, p.Timeout+time.Second)
		ok, _ := p.Runner.Run(actx, "ping", args...)
		cancel()
		if ok {
			return true
		}
	}
	return false
}

func pingArgs(goos, address string, timeout time.Duration) []string {
	ms := timeout.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.FormatInt(ms, 10), address}
	case "darwin", "freebsd", "netbsd", "openbsd":
		return []string{"-c", "1", "-W", strconv.FormatInt(ms, 10), address}
	default:
		secs := (ms + 999) / 1000
		return []string{"-c", "1", "-W", strconv.FormatInt(secs, 10), address}
	}
}

// TCPProber treats a completed TCP handshake on Port as proof of life. It is
// the fallback for networks that drop ICMP.
type TCPProber struct {
	Port     int
	Attempts int
	Timeout  time.Duration
}

func (p *TCPProber) Probe(ctx context.Context, address string) bool {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	port := p.Port
	if port == 0 {
		port = 22
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	hostport := net.JoinHostPort(address, strconv.Itoa(port))
	for i := 0; i < attempts; i++ {
		conn, err := d.DialContext(ctx, "tcp", hostport)
		if err == nil {
			_ = conn.Close()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

// Always skips probing.
type Always struct{}

func (Always) Probe(context.Context, string) bool { return true }

// New returns the prober named by mode: "icmp", "tcp" or "none".
func New(mode string, attempts int, timeout time.Duration, port int) Prober {
	switch mode {
	case "tcp":
		return &TCPProber{Port: port, Attempts: attempts, Timeout: timeout}
	case "none":
		return Always{}
	default:
		return NewPinger(attempts, timeout)
	}
}
