package remote

import (
	"errors"
	"strings"
)

// Class is the retry-relevant classification of a failed backend call.
type Class string

const (
	// ClassTransient marks failures expected to clear if retried shortly.
	ClassTransient Class = "transient"
	// ClassPermanent marks failures that retrying cannot fix.
	ClassPermanent Class = "permanent"
)

// permanentIndicators are checked first: an error that names a missing or
// invalid target is permanent even if it also mentions a connection.
var permanentIndicators = []string{
	"not found",
	"invalid",
	"unauthorized",
	"forbidden",
	"no such",
	"does not exist",
	"incompatible",
	"unsupported",
	"bad request",
}

var transientIndicators = []string{
	"forcibly closed",
	"connection reset",
	"connection aborted",
	"connection refused",
	"broken pipe",
	"wsarecv",
	"timeout",
	"timed out",
	"deadline exceeded",
	"econnreset",
	"econnrefused",
	"econnaborted",
	"enetdown",
	"enetunreach",
	"no route to host",
	"temporarily unavailable",
	"unavailable",
}

// Classify matches an error message against the indicator lists.
// Unmatched errors default to permanent: failing fast on unfamiliar
// errors beats hammering a backend that may be misbehaving in a new way.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}
	msg := strings.ToLower(err.Error())
	for _, ind := range permanentIndicators {
		if strings.Contains(msg, ind) {
			return ClassPermanent
		}
	}
	for _, ind := range transientIndicators {
		if strings.Contains(msg, ind) {
			return ClassTransient
		}
	}
	return ClassPermanent
}

// Error wraps a backend failure with its operation and classification so
// callers never need to re-parse message text.
type Error struct {
	Op    string
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return e.Op + ": " + string(e.Class) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// WrapError classifies err and attaches op. A nil err returns nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Class: Classify(err), Err: err}
}

// IsTransient reports whether err carries a transient classification.
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Class == ClassTransient
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Class == ClassPermanent
}
