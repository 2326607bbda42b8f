package messaging

import (
	"errors"
	"fmt"
	"net/http"
)

// ReasonInvalidOwner is the directory reason code for a record that is not
// owned by the calling account.
const ReasonInvalidOwner = "invalid_owner"

var (
	// ErrCacheMiss is returned by LocalCache.Read when the key is absent.
	ErrCacheMiss = errors.New("cache miss")

	// ErrPermissionDenied is returned when the user declined notification permission.
	ErrPermissionDenied = errors.New("push notification permission denied")

	// ErrTokenUnregistered is returned by a Sender when the platform no longer
	// accepts the token.
	ErrTokenUnregistered = errors.New("device token is no longer registered")
)

// DirectoryError is a structured failure reported by the device directory.
type DirectoryError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *DirectoryError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Reason != "" {
		return fmt.Sprintf("directory error %d (%s): %s", e.StatusCode, e.Reason, msg)
	}
	return fmt.Sprintf("directory error %d: %s", e.StatusCode, msg)
}

// IsOwnershipConflict reports whether err means the device record is no longer
// owned by the current account or no longer exists.
func IsOwnershipConflict(err error) bool {
	var de *DirectoryError
	if !errors.As(err, &de) {
		return false
	}
	switch {
	case de.StatusCode == http.StatusForbidden, de.StatusCode == http.StatusNotFound:
		return true
	case de.Reason == ReasonInvalidOwner:
		return true
	}
	return false
}
