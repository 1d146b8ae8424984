package cli

import (
	"errors"
	"fmt"
)

const (
	ExitOK         = 0
	ExitUsage      = 1
	ExitProfile    = 2
	ExitIncomplete = 3
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitUsage
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}
