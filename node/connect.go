package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/btctest/node-harness/node/status"
	"github.com/btctest/node-harness/rpcclient"
)

// Poll at a rate of four times per second.
const connectPollFreq = 250 * time.Millisecond

// WaitForRPCConnection polls the freshly started process until its RPC
// interface accepts and answers a liveness query, for up to the node's
// RPC timeout.
//
// Conditions that are part of a normal startup are retried: the port not
// being open yet, the structured warmup/shutting-down responses, and the
// credentials file not having been written. Everything else fails
// immediately; in particular a process that has already exited fails with
// a StartupError carrying the exit code rather than polling a dead
// process until timeout.
func (n *Node) WaitForRPCConnection(ctx context.Context) error {
	if n.process == nil {
		return UsageError(n.errorf("node is not started").Error())
	}
	n.connState = status.Connecting

	attempts := uint(n.cfg.RPCTimeout / connectPollFreq)
	if attempts == 0 {
		attempts = 1
	}

	// retry.Do unwraps unrecoverable errors before reporting them, so track
	// the fatal classification here rather than re-deriving it afterwards.
	var fatalErr error
	fatal := func(err error) error {
		fatalErr = err
		return retry.Unrecoverable(err)
	}

	err := retry.Do(
		func() error {
			if exited, code := n.process.Poll(); exited {
				n.state = status.FailedToStart
				return fatal(&StartupError{Index: n.cfg.Index, ExitCode: code})
			}

			url, err := rpcclient.URL(n.cfg.DataDir, n.cfg.Index, n.cfg.Chain, n.cfg.RPCHost)
			if err != nil {
				// The node may be listening before it has written its
				// credentials; keep polling only for that condition.
				if strings.Contains(err.Error(), rpcclient.NoCredentialsMsg) {
					return err
				}
				return fatal(err)
			}

			client, err := rpcclient.New(url, n.cfg.RPCTimeout)
			if err != nil {
				return fatal(err)
			}
			if _, err := client.Call(ctx, "getblockcount", nil); err != nil {
				if !startupErrIsTransient(err) {
					return fatal(err)
				}
				return err
			}

			// If getblockcount succeeds the RPC connection is up.
			n.rpc = client
			n.url = url
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(connectPollFreq),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		n.connState = status.Disconnected
		if fatalErr != nil {
			// Fatal classification: propagate unchanged rather than
			// masking it as a timeout.
			var startupErr *StartupError
			if errors.As(fatalErr, &startupErr) {
				return startupErr
			}
			return fmt.Errorf("[node %d] %w", n.cfg.Index, fatalErr)
		}
		return fmt.Errorf("[node %d] %w (last error: %s)", n.cfg.Index, ErrRPCTimeout, err)
	}

	n.connState = status.Connected
	n.state = status.Running
	n.log.Debug("RPC successfully started", zap.String("url", n.url))
	return nil
}

// startupErrIsTransient reports whether a liveness-query failure is part of
// a normal startup race. The transient allowlist is exact: connection
// refused, warmup (-28), and shutting-down-due-to-error (-342). Widening it
// would hide genuine startup failures until timeout.
func startupErrIsTransient(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		// Port not yet open.
		return true
	}
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == rpcclient.ErrCodeInWarmup || rpcErr.Code == rpcclient.ErrCodeInShutdown
	}
	// Unknown I/O error: not part of normal startup.
	return false
}
