// Package errdefs defines the error kinds a kernel build can fail with.
// Every fatal condition is an *Error whose Kind is one of the sentinels below,
// so callers classify failures with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig covers invalid or incomplete build configuration. It is
	// always raised before any compilation starts.
	ErrConfig = errors.New("configuration error")
	// ErrSpawn means a toolchain program could not be started.
	ErrSpawn = errors.New("process spawn error")
	// ErrCompile means the device compiler exited with a nonzero status.
	ErrCompile = errors.New("compilation error")
	// ErrIO covers file system failures while preparing or emitting output.
	ErrIO = errors.New("i/o error")
)

// Error attaches a message and an optional cause to a Kind.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the Kind sentinel.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Configf builds an ErrConfig error.
func Configf(format string, args ...any) error {
	return &Error{Kind: ErrConfig, Msg: fmt.Sprintf(format, args...)}
}

// Config wraps err as an ErrConfig error.
func Config(err error, format string, args ...any) error {
	return &Error{Kind: ErrConfig, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Spawn wraps err as an ErrSpawn error.
func Spawn(err error, format string, args ...any) error {
	return &Error{Kind: ErrSpawn, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IO wraps err as an ErrIO error naming the offending path.
func IO(err error, path string) error {
	return &Error{Kind: ErrIO, Msg: path, Err: err}
}
