package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrSyncInProgress is returned when a second session is started while one
// is already running. Single-flight is enforced at this boundary.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrConnectionLost wraps transport failures of the connection class. A
// connection-class failure aborts the remaining queue and rolls the batch
// back; anything else is a per-file failure and the queue continues.
var ErrConnectionLost = errors.New("device connection lost")

// ErrNoLibraryRoot means the library path is not configured. Sessions never
// start in that state.
var ErrNoLibraryRoot = errors.New("no library root configured")

// isConnectionError classifies a transport failure. Explicitly wrapped
// ErrConnectionLost, context deadline, network errors, and the usual socket
// errno family all count; everything else is treated as a per-file
// application failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
		syscall.EPIPE, syscall.ETIMEDOUT, syscall.EHOSTUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	// A bare errno also satisfies net.Error, so match the concrete socket
	// error type instead of the interface.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// Helper subprocesses surface socket failures as text.
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"connection reset", "connection refused", "timed out", "broken pipe"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
