package tinode

import (
	"errors"
	"strconv"
)

var (
	// ErrNotConnected: request submitted with no live connection.
	ErrNotConnected = errors.New("tinode: not connected")
	// ErrDisconnected: connection was lost while the request was pending.
	ErrDisconnected = errors.New("tinode: disconnected")
	// ErrTimeout: pending request exceeded its deadline.
	ErrTimeout = errors.New("tinode: timeout")
	// ErrCacheInconsistency: an internal cache invariant was violated.
	// Always a defect, never expected in normal operation.
	ErrCacheInconsistency = errors.New("tinode: cache inconsistency")
	// ErrCancelled: outbound message was cancelled by the caller.
	ErrCancelled = errors.New("tinode: cancelled")
)

// ServerError is a {ctrl} response with a non-success code.
type ServerError struct {
	Code int
	Text string
}

func (e *ServerError) Error() string {
	return "tinode: server rejected request: " + strconv.Itoa(e.Code) + " " + e.Text
}

// IsSuccess reports whether the ctrl code indicates success (2xx).
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
