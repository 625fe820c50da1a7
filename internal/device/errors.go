package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/scrapli/scrapligo/util"
)

// Session failures. Every error returned by a Client wraps exactly one of them.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrSessionTimeout = errors.New("session timed out")
	ErrSession        = errors.New("session error")
)

// Classify wraps err with the session failure class it belongs to. Errors that
// are already classified are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrSessionTimeout), errors.Is(err, ErrSession):
		return err
	case isAuthError(err):
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrSessionTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrSession, err)
	}
}

var authMarkers = []string{
	"unable to authenticate",
	"no supported methods remain",
	"permission denied",
	"authentication failed",
	"access denied",
}

func isAuthError(err error) bool {
	if errors.Is(err, util.ErrAuthError) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range authMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, util.ErrTimeoutError) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "timed out")
}
