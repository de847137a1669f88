package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/btctest/node-harness/rpcclient"
)

// ErrorMatch selects how an expected startup-failure message is compared
// against the node's captured stderr.
type ErrorMatch int

const (
	// expected message must equal stderr exactly
	FullText ErrorMatch = iota
	// expected message is a regular expression that must match all of stderr
	FullRegex
	// expected message is a regular expression searched within stderr
	PartialRegex
)

const defaultMemoryThreshold = 0.03

// DebugLogPath returns the node's debug log location.
func (n *Node) DebugLogPath() string {
	return filepath.Join(n.cfg.DataDir, rpcclient.ChainSubdir(n.cfg.Chain), "debug.log")
}

// AssertDebugLog runs [fn] and asserts that every entry of [expectedMsgs]
// appears somewhere in the log content appended while [fn] ran. Each
// expected message is matched independently as a substring; relative order
// is not required. Content written before the call never satisfies an
// expectation.
func (n *Node) AssertDebugLog(expectedMsgs []string, fn func() error) error {
	info, err := os.Stat(n.DebugLogPath())
	if err != nil {
		return err
	}
	offset := info.Size()

	fnErr := fn()

	contents, err := os.ReadFile(n.DebugLogPath())
	if err != nil {
		return err
	}
	if offset > int64(len(contents)) {
		offset = int64(len(contents))
	}
	tail := string(contents[offset:])

	for _, expected := range expectedMsgs {
		if !strings.Contains(tail, expected) {
			printLog := " - " + strings.Join(strings.Split(tail, "\n"), "\n - ")
			return n.errorf("expected message %q does not partially match log:\n\n%s\n\n", expected, printLog)
		}
	}
	return fnErr
}

// AssertMemoryStable runs [fn] and asserts the node's resident memory did
// not grow by more than [threshold] (relative; <=0 means the default 3%).
// If either sample is unavailable the check is skipped with a warning so
// that diagnostic tooling is never a flake source.
func (n *Node) AssertMemoryStable(threshold float64, fn func() error) error {
	if threshold <= 0 {
		threshold = defaultMemoryThreshold
	}
	before, beforeOK := n.MemoryRSS()

	if err := fn(); err != nil {
		return err
	}

	after, afterOK := n.MemoryRSS()
	if !beforeOK || !afterOK || before == 0 {
		n.log.Warn("unable to detect memory usage (RSS), skipping memory check")
		return nil
	}
	return checkMemoryIncrease(n.cfg.Index, before, after, threshold)
}

func checkMemoryIncrease(index int, before, after uint64, threshold float64) error {
	increase := float64(after)/float64(before) - 1
	if increase > threshold {
		return fmt.Errorf(
			"[node %d] memory usage increased over threshold of %.3f%% from %d to %d (%.3f%%)",
			index, threshold*100, before, after, increase*100,
		)
	}
	return nil
}

// AssertStartRaisesInitError starts the node with [extraArgs] expecting it
// to exit with an error before the RPC connection is ever established. If
// the node instead comes up, that is a failure (the node is stopped again
// before returning). When [expectedMsg] is non-empty, the captured stderr
// is compared against it according to [match].
func (n *Node) AssertStartRaisesInitError(ctx context.Context, extraArgs []string, expectedMsg string, match ErrorMatch) error {
	stdout, err := newOutputFile(n.cfg.DataDir, "stdout")
	if err != nil {
		return err
	}
	stderr, err := newOutputFile(n.cfg.DataDir, "stderr")
	if err != nil {
		return err
	}

	if err := n.Start(extraArgs, stdout, stderr); err != nil {
		return err
	}
	connErr := n.WaitForRPCConnection(ctx)
	if connErr == nil {
		// The node came up: stop it and report the missing failure.
		if err := n.StopNode(ctx, ""); err != nil {
			n.log.Warn("error stopping unexpectedly healthy node", zap.Error(err))
		}
		if err := n.WaitUntilStopped(DefaultProcWaitTimeout); err != nil {
			return err
		}
		if expectedMsg == "" {
			return n.errorf("node should have exited with an error")
		}
		return n.errorf("node should have exited with expected error %q", expectedMsg)
	}

	var startupErr *StartupError
	if !errors.As(connErr, &startupErr) {
		// Not a startup failure: unexpected condition, propagate.
		return connErr
	}
	n.log.Debug("node failed to start", zap.Error(connErr))
	n.process = nil

	if expectedMsg != "" {
		contents, err := os.ReadFile(stderr.Name())
		if err != nil {
			return err
		}
		return checkExpectedStderr(n.cfg.Index, strings.TrimSpace(string(contents)), expectedMsg, match)
	}
	return nil
}

func checkExpectedStderr(index int, stderr, expectedMsg string, match ErrorMatch) error {
	switch match {
	case PartialRegex:
		re, err := regexp.Compile("(?m)" + expectedMsg)
		if err != nil {
			return err
		}
		if !re.MatchString(stderr) {
			return fmt.Errorf("[node %d] expected message %q does not partially match stderr:\n%q", index, expectedMsg, stderr)
		}
	case FullRegex:
		// No DOTALL: `.` must not silently span lines of a multiline stderr.
		re, err := regexp.Compile(`\A(?:` + expectedMsg + `)\z`)
		if err != nil {
			return err
		}
		if !re.MatchString(stderr) {
			return fmt.Errorf("[node %d] expected message %q does not fully match stderr:\n%q", index, expectedMsg, stderr)
		}
	case FullText:
		if expectedMsg != stderr {
			return fmt.Errorf("[node %d] expected message %q does not fully match stderr:\n%q", index, expectedMsg, stderr)
		}
	}
	return nil
}
