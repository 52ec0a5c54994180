package util

import (
	"fmt"

	"github.com/golang/glog"
)

// Assertf panics with a formatted message when the condition does not
// hold. It guards invariants that well-formed front-end input can never
// violate; a failure is a programmer error, not a recoverable condition.
func Assertf(condition bool, format string, args ...interface{}) {
	if condition {
		return
	}
	Failf(format, args...)
}

// Failf reports an unconditional invariant violation.
func Failf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	glog.Error(message)
	panic(message)
}
