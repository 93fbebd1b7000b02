package vm

import (
	"fmt"

	"github.com/chazu/flux/compiler"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ErrorKind classifies a fatal execution error. Every kind is itself an
// error, so errors.Is matches a *LaneError against a kind.
type ErrorKind int

const (
	StackUnderflow ErrorKind = iota + 1
	StackOverflow
	JumpUnderflow
	JumpOverflow
	EmptyResult
	MalformedWord
	OutOfBounds
	DivideByZero
	Aborted
)

var kindNames = [...]string{
	StackUnderflow: "stack underflow",
	StackOverflow:  "stack overflow",
	JumpUnderflow:  "jump stack underflow",
	JumpOverflow:   "jump stack overflow",
	EmptyResult:    "empty result",
	MalformedWord:  "malformed word",
	OutOfBounds:    "buffer access out of bounds",
	DivideByZero:   "divide by zero",
	Aborted:        "aborted",
}

func (k ErrorKind) Error() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) String() string { return k.Error() }

// Sentinels for errors.Is.
var (
	ErrStackUnderflow error = StackUnderflow
	ErrStackOverflow  error = StackOverflow
	ErrJumpUnderflow  error = JumpUnderflow
	ErrJumpOverflow   error = JumpOverflow
	ErrEmptyResult    error = EmptyResult
	ErrMalformedWord  error = MalformedWord
	ErrOutOfBounds    error = OutOfBounds
	ErrDivideByZero   error = DivideByZero
	ErrAborted        error = Aborted
)

// LaneError is a fatal error raised by one lane. Stack is a snapshot of the
// lane's data stack, bottom first, taken when the error was raised.
type LaneError struct {
	Kind  ErrorKind
	Lane  int // -1 when no single lane is at fault
	IP    int // -1 when the error is not tied to an instruction
	Word  compiler.Word
	Stack []int32
	Err   error // underlying cause, such as a context error
}

func (e *LaneError) Error() string {
	msg := e.Kind.Error()
	switch {
	case e.Lane >= 0 && e.IP >= 0:
		msg = fmt.Sprintf("lane %d at %04d (%s): %s", e.Lane, e.IP, e.Word, msg)
	case e.Lane >= 0:
		msg = fmt.Sprintf("lane %d: %s", e.Lane, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *LaneError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}
