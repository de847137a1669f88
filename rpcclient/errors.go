package rpcclient

import "fmt"

// RPCError is a structured {code, message} error returned by the node.
// Both the RPC transport and the companion CLI map their error conventions
// into this type, so error-handling test code is transport-agnostic.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d - %s", e.Code, e.Message)
}

// Error codes the node reports while it is still initializing. Treating any
// other code as fatal during connection establishment is intentional.
const (
	// RPC server is warming up
	ErrCodeInWarmup = -28
	// RPC server started but is shutting down due to error
	ErrCodeInShutdown = -342
)
