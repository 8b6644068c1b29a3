package leaseclient

import (
	"errors"
	"fmt"
)

// ErrLeaseHeld is returned by Acquire while a lease is held or being acquired.
var ErrLeaseHeld = errors.New("client already holds a lease")

// ExhaustedError reports that every attempt was denied for capacity.
type ExhaustedError struct {
	Attempts     int
	Reason       string
	RetryAfterMS int32
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("lease not granted after %d attempts: %s", e.Attempts, e.Reason)
}

// IsExhausted reports whether err means retries ran out.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
