// Package errcode defines the stable, bus-facing error identifiers used
// throughout the MCE core.
package errcode

// Code is a stable, bus-facing error identifier. It is a string newtype,
// comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes.
const (
	OK Code = "ok"

	// Programmer errors (§7.1): channel misuse, unknown enum, internal
	// invariant violation. Callers that see these should abort.
	Internal     Code = "internal"
	UnknownChan  Code = "unknown_channel"
	Reentrant    Code = "reentrant_publish"
	ReadOnlyChan Code = "read_only_channel"

	// Peer errors (§7.2).
	PeerGone Code = "peer_gone"

	// Transient IPC errors (§7.3).
	Timeout    Code = "timeout"
	SendFailed Code = "send_failed"

	// Sysfs errors (§7.4).
	Unavailable Code = "unavailable"
	WriteFailed Code = "write_failed"

	// Request validation.
	InvalidArgs   Code = "invalid_args"
	InvalidParams Code = "invalid_params"
	TooMany       Code = "too_many"
	Busy          Code = "busy"
	Denied        Code = "denied"
)

// E is the wrapper used when context and a cause need to travel with a
// Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	switch {
	case e.Msg != "" && e.Op != "":
		return e.Op + ": " + e.Msg
	case e.Msg != "":
		return string(e.C) + ": " + e.Msg
	default:
		return string(e.C)
	}
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New builds an *E with the given code and message.
func New(c Code, op, msg string) *E {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap builds an *E that carries an underlying cause.
func Wrap(c Code, op string, err error) *E {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Msg: err.Error(), Err: err}
}

// Of extracts a Code from an error, defaulting to Internal.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Internal
}
