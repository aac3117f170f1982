package remote

import (
	"context"
	"errors"

	"github.com/raterudder/autarcostatus/pkg/types"
)

var (
	// ErrTransient is a failure expected to go away on retry, like a network
	// error or a timeout.
	ErrTransient = errors.New("transient failure")
	// ErrUnauthorized means the remote rejected the credentials or the
	// session. A new session is needed before fetching again.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMalformed means the remote answered but the value could not be used.
	ErrMalformed = errors.New("malformed response")
)

// Session is an authenticated context returned by Client.Authenticate. It
// must only be used with the Client that created it.
type Session interface {
	// Close releases the session. Fetching with a closed session fails with
	// ErrUnauthorized.
	Close() error
}

// Client is the capability needed to read telemetry from the vendor. The
// transport behind it is swappable.
type Client interface {
	// Authenticate logs in and returns a new Session.
	Authenticate(ctx context.Context, creds types.Credentials) (Session, error)

	// Fetch returns the current value of the metric. Errors wrap one of
	// ErrTransient, ErrUnauthorized or ErrMalformed.
	Fetch(ctx context.Context, sess Session, metric types.Metric) (uint32, error)
}

// FailureClass is the recovery a caller should apply to an error.
type FailureClass int

const (
	// FailureNone is returned for a nil error.
	FailureNone FailureClass = iota
	// FailureTransient errors are retried without a new session.
	FailureTransient
	// FailureMalformed errors are retried like transient ones but indicate
	// bad data rather than a bad connection.
	FailureMalformed
	// FailureUnauthorized errors require a new session.
	FailureUnauthorized
)

func (f FailureClass) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTransient:
		return "transient"
	case FailureMalformed:
		return "malformed"
	case FailureUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Classify maps err to a FailureClass. Errors that wrap none of the known
// sentinels are treated as transient.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrUnauthorized):
		return FailureUnauthorized
	case errors.Is(err, ErrMalformed):
		return FailureMalformed
	default:
		return FailureTransient
	}
}
