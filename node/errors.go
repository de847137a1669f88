package node

import (
	"errors"
	"fmt"
)

// StartupError is returned when the node process exits during
// initialization, before the RPC interface ever became reachable.
type StartupError struct {
	Index    int
	ExitCode int
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("[node %d] node exited with status %d during initialization", e.Index, e.ExitCode)
}

// ExitError is returned when the companion CLI exits non-zero without
// producing the structured "error code / error message" output.
type ExitError struct {
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("CLI exited with status %d: %s", e.ExitCode, e.Stderr)
}

// UsageError marks a programming error in the test, such as mixing
// positional and named arguments or dispatching RPC before the connection
// is established. It is never retried or recovered from.
type UsageError string

func (e UsageError) Error() string { return string(e) }

// ErrRPCTimeout is returned when the RPC interface never became reachable
// within the connection budget.
var ErrRPCTimeout = errors.New("unable to connect to the node's RPC interface")
