package extract

import (
	"errors"
	"fmt"

	"github.com/benaskins/keyextract/internal/keychain"
)

// Kind classifies why a run failed. The taxonomy is flat: every failure is
// exactly one kind and ends the run.
type Kind int

const (
	InvalidInput Kind = iota + 1
	OpenFailed
	UnlockFailed
	UnlockVerificationFailed
	NoKeyFound
	ExportFailed
	WriteFailed
)

var kindNames = map[Kind]string{
	InvalidInput:             "InvalidInput",
	OpenFailed:               "OpenFailed",
	UnlockFailed:             "UnlockFailed",
	UnlockVerificationFailed: "UnlockVerificationFailed",
	NoKeyFound:               "NoKeyFound",
	ExportFailed:             "ExportFailed",
	WriteFailed:              "WriteFailed",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ExitCode is the process exit status for a failure of this kind.
func (k Kind) ExitCode() int {
	if k < InvalidInput || k > WriteFailed {
		return 1
	}
	return int(k)
}

// Error is returned by Run for every failure.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the native keychain status code behind the error, if any.
func (e *Error) Code() (int32, bool) {
	return keychain.CodeOf(e.Err)
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// ExitCode maps any error returned by the CLI to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if k := KindOf(err); k != 0 {
		return k.ExitCode()
	}
	return 1
}
