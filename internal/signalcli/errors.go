package signalcli

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProcessErrorKind classifies a failed signal-cli invocation. Kinds
// implement error so they can be matched with errors.Is.
type ProcessErrorKind int

const (
	// Timeout: no response within the configured bound. Safe to retry.
	Timeout ProcessErrorKind = iota + 1
	// NonZeroExit: signal-cli ran and reported failure.
	NonZeroExit
)

func (k ProcessErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case NonZeroExit:
		return "non-zero exit"
	default:
		return fmt.Sprintf("process error kind %d", int(k))
	}
}

func (k ProcessErrorKind) Error() string { return k.String() }

// ProcessError is returned by Gateway.Invoke when signal-cli times out or
// exits with a non-zero status. Callers can use errors.As:
//
//	var procErr *signalcli.ProcessError
//	if errors.As(err, &procErr) && procErr.Kind == signalcli.NonZeroExit {
//	    log.Print(procErr.Stderr)
//	}
type ProcessError struct {
	Kind     ProcessErrorKind
	Op       string
	ExitCode int
	Stderr   string
	// Stdout holds whatever was captured before the failure.
	Stdout  string
	Timeout time.Duration
}

func (e *ProcessError) Error() string {
	switch e.Kind {
	case Timeout:
		return fmt.Sprintf("signal-cli %s: timed out after %s", e.Op, e.Timeout)
	default:
		msg := strings.TrimSpace(e.Stderr)
		if msg == "" {
			return fmt.Sprintf("signal-cli %s: exit status %d", e.Op, e.ExitCode)
		}
		return fmt.Sprintf("signal-cli %s: exit status %d: %s", e.Op, e.ExitCode, msg)
	}
}

func (e *ProcessError) Is(target error) bool {
	kind, ok := target.(ProcessErrorKind)
	return ok && kind == e.Kind
}

// IsTimeout reports whether err is a transport timeout, the one process
// failure that is safe to retry.
func IsTimeout(err error) bool {
	return errors.Is(err, Timeout)
}
