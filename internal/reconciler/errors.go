package reconciler

import (
	"errors"
	"fmt"
)

// ErrAuthRequired is returned on a 401. The sync loop must not retry it;
// the application has to re-authenticate first.
var ErrAuthRequired = errors.New("authentication required")

// TransientError covers transport failures, timeouts and 5xx responses.
// The operation stays queued and is retried on a later pass.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError is a non-401 4xx: the server refused the payload. Retried up
// to the attempt ceiling like any other failure; the distinct type only lets
// observers tell the classes apart.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.Status, e.Body)
}
