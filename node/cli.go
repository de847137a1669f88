package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/btctest/node-harness/rpcclient"
)

// The companion CLI reports structured node errors on stderr in this form.
var cliErrPattern = regexp.MustCompile(`(?s)^error code: (-?\d+)\nerror message:\n(.*)`)

// CLI invokes the node's companion command-line binary. A CLI value is
// immutable; WithOptions and WithInput return bound copies.
type CLI struct {
	binary  string
	datadir string
	chain   string
	options []string
	input   string
	log     *zap.Logger
}

// NewCLI returns an invoker for the CLI binary at [binary] against the
// node using [datadir] and [chain].
func NewCLI(binary, datadir, chain string) *CLI {
	return &CLI{
		binary:  binary,
		datadir: datadir,
		chain:   chain,
		log:     zap.L().Named("cli"),
	}
}

// WithOptions returns a new invoker bound to additional sticky command-line
// options (e.g. a wallet selector). The receiver is not modified.
func (c *CLI) WithOptions(options ...string) *CLI {
	cp := *c
	cp.options = make([]string, 0, len(c.options)+len(options))
	cp.options = append(cp.options, c.options...)
	cp.options = append(cp.options, options...)
	return &cp
}

// WithInput returns a new invoker that feeds [input] to the CLI's stdin.
func (c *CLI) WithInput(input string) *CLI {
	cp := *c
	cp.input = input
	return &cp
}

// Call implements Caller.
func (c *CLI) Call(ctx context.Context, command string, positional []interface{}, named map[string]interface{}) (interface{}, error) {
	if len(positional) > 0 && len(named) > 0 {
		return nil, UsageError("cannot use positional arguments and named arguments in the same CLI call")
	}

	args := make([]string, 0, 8+len(c.options)+len(positional)+len(named))
	// The chain selector is always passed, even for the main chain.
	args = append(args, "-datadir="+c.datadir, "-chain="+c.chain)
	args = append(args, c.options...)
	if len(named) > 0 {
		args = append(args, "-named")
	}
	args = append(args, command)
	for _, arg := range positional {
		args = append(args, formatArg(arg))
	}
	for key, value := range named {
		args = append(args, key+"="+formatArg(value))
	}

	c.log.Debug("running CLI command", zap.String("command", command))
	cmd := exec.CommandContext(ctx, c.binary, args...)
	if c.input != "" {
		cmd.Stdin = strings.NewReader(c.input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("couldn't run CLI binary %q: %w", c.binary, err)
		}
		if match := cliErrPattern.FindStringSubmatch(stderr.String()); match != nil {
			code, convErr := strconv.Atoi(match[1])
			if convErr == nil {
				return nil, &rpcclient.RPCError{Code: code, Message: strings.TrimSpace(match[2])}
			}
		}
		// Ignore stdout, report with raw stderr.
		return nil, &ExitError{ExitCode: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
	}

	return decodeCLIOutput(stdout.String()), nil
}

// formatArg renders one argument for the wire. Booleans are lowercased,
// which is what the CLI expects for positional flags.
func formatArg(arg interface{}) string {
	switch v := arg.(type) {
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// BatchFunc is one deferred invocation in a Batch.
type BatchFunc func() (interface{}, error)

// BatchResult holds the outcome of one Batch item. Exactly one of Result
// and Err is meaningful.
type BatchResult struct {
	Result interface{}
	Err    error
}

// Request returns a BatchFunc that will invoke [command] with the given
// positional arguments when called.
func (c *CLI) Request(ctx context.Context, command string, args ...interface{}) BatchFunc {
	return func() (interface{}, error) {
		return c.Call(ctx, command, args, nil)
	}
}

// Batch executes [requests] in order, collecting each result or error into
// a uniform record. Partial failure is expected and reported per item; it
// never aborts the sequence.
func (c *CLI) Batch(requests []BatchFunc) []BatchResult {
	results := make([]BatchResult, 0, len(requests))
	for _, request := range requests {
		result, err := request()
		results = append(results, BatchResult{Result: result, Err: err})
	}
	return results
}
