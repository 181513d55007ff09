// Package errorpolicy implements the process-wide choice between tolerating
// transient failures and terminating on them.
package errorpolicy

import "github.com/sirupsen/logrus"

// Mode is the two-valued error policy setting.
type Mode int

const (
	// Exit is the default: any transient error is fatal.
	Exit Mode = iota
	// Log swallows transient errors after logging them; callers see a
	// handled (nil) error.
	Log
)

func (m Mode) String() string {
	if m == Log {
		return "log"
	}
	return "exit"
}

// Policy routes transient errors according to its configured Mode.
// Structurally fatal errors (see Fatal) bypass it entirely: callers must
// check those themselves before ever calling Handle.
type Policy struct {
	Mode Mode
}

func New(mode Mode) Policy { return Policy{Mode: mode} }

// Handle reports a transient error with context (the subsystem and a
// human-readable message). It returns true if the caller must now treat
// this as fatal and begin shutdown; false if the error has been logged and
// handled, and the caller may proceed as if it had not occurred.
func (p Policy) Handle(component string, err error) (fatal bool) {
	fields := logrus.WithField("component", component)
	switch p.Mode {
	case Log:
		fields.WithError(err).Warn("transient error, continuing per error policy")
		return false
	default:
		fields.WithError(err).Error("transient error, terminating per error policy")
		return true
	}
}

// FatalError marks an error as structurally fatal regardless of the
// configured policy: ring-buffer invariant violations, begin/commit
// mismatches, unknown-relid after a schema has been seen, pidfile lock
// failure and replication keepalive failure all construct one of these
// instead of going through Handle. Configuration errors (missing conninfo,
// invalid flags) are plain errors from package config that end the process
// in main; they never reach Handle either.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}
