// Package node implements the test-side controller for one node under test:
// starting and stopping the external process, establishing the RPC
// connection, and dispatching calls over RPC or the companion CLI.
package node

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/btctest/node-harness/node/status"
	"github.com/btctest/node-harness/pkg/logutil"
	"github.com/btctest/node-harness/rpcclient"
	"github.com/btctest/node-harness/utils"
)

const (
	// How long to wait for a stopping process to exit before giving up.
	DefaultProcWaitTimeout = 60 * time.Second

	defaultGenerateMaxTries = 1000000
)

// Config describes one node slot. Immutable once the Node is created.
type Config struct {
	// Index identifies this node in diagnostics and selects its
	// deterministic ports and key material.
	Index int
	// DataDir is the node's working directory. Must exist.
	DataDir string
	// Chain is the network/chain selector, e.g. "regtest". Empty or
	// "main" means the main chain.
	Chain string
	// RPCHost overrides the RPC endpoint host (optionally "host:port").
	RPCHost string
	// RPCTimeout bounds connection establishment and each RPC call.
	RPCTimeout time.Duration
	// BinaryPath is the node binary to launch.
	BinaryPath string
	// CLIPath is the companion CLI binary.
	CLIPath string
	// MockTime is the simulated clock value passed to the node.
	MockTime int64
	// ExtraArgs are appended to the base argument set on every Start
	// call that doesn't provide its own.
	ExtraArgs []string
	// UseCLI selects CLI-mode dispatch instead of RPC-mode.
	UseCLI bool
	// OmitChainArg drops the chain selector from the node's arguments
	// (it must then come from the config file).
	OmitChainArg bool
	// NoCleanup disables the kill-leftover-process safety net in Close.
	NoCleanup bool
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("no datadir given for node %d", c.Index)
	}
	if c.BinaryPath == "" {
		return fmt.Errorf("no binary path given for node %d", c.Index)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("non-positive RPC timeout for node %d", c.Index)
	}
	return nil
}

// Node drives one externally-spawned node process. A Node is meant to be
// used from one logical flow at a time; only the diagnostic memory sampling
// is safe to interleave.
type Node struct {
	cfg Config
	log *zap.Logger

	creator ProcessCreator
	process NodeProcess

	state     status.Status
	connState status.ConnStatus

	rpc    *rpcclient.Client
	url    string
	cli    *CLI
	caller Caller

	stdout *os.File
	stderr *os.File

	p2ps []PeerConnection

	// Optional override of the deterministic key table.
	detKey *AddressKeyPair
}

// New creates a node handle from [cfg]. The process is not started.
func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := &Node{
		cfg:     cfg,
		log:     logutil.NodeLogger(cfg.Index),
		creator: processCreator{},
		state:   status.NotStarted,
		cli:     NewCLI(cfg.CLIPath, cfg.DataDir, cfg.Chain),
	}
	if cfg.UseCLI {
		n.caller = n.cli
	} else {
		n.caller = &rpcCaller{node: n}
	}
	return n, nil
}

// Index returns the node's slot index.
func (n *Node) Index() int { return n.cfg.Index }

// DataDir returns the node's working directory.
func (n *Node) DataDir() string { return n.cfg.DataDir }

// Status returns the process lifecycle state.
func (n *Node) Status() status.Status { return n.state }

// ConnStatus returns the control-channel state.
func (n *Node) ConnStatus() status.ConnStatus { return n.connState }

// URL returns the RPC endpoint recorded at connection time.
func (n *Node) URL() string { return n.url }

// CLI returns the node's companion CLI invoker.
func (n *Node) CLI() *CLI { return n.cli }

func (n *Node) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("[node %d] %s", n.cfg.Index, fmt.Sprintf(format, args...))
}

// baseArgs is the fixed argument set every Start call uses. Caller-supplied
// extra arguments are appended after these so they can override defaults.
func (n *Node) baseArgs() []string {
	args := []string{
		"-datadir=" + n.cfg.DataDir,
		"-logtimemicros",
		"-debug",
		"-debugexclude=libevent",
		"-debugexclude=leveldb",
		fmt.Sprintf("-mocktime=%d", n.cfg.MockTime),
		fmt.Sprintf("-uacomment=testnode%d", n.cfg.Index),
	}
	if !n.cfg.OmitChainArg && n.cfg.Chain != "" {
		args = append(args, "-chain="+n.cfg.Chain)
	}
	return args
}

// Start launches the node process. It does not block for readiness; call
// WaitForRPCConnection afterwards. A nil [extraArgs] uses the handle's
// configured extra arguments; nil sinks get fresh files under the datadir.
func (n *Node) Start(extraArgs []string, stdout, stderr *os.File) error {
	if n.process != nil {
		return UsageError(n.errorf("node already started").Error())
	}
	if extraArgs == nil {
		extraArgs = n.cfg.ExtraArgs
	}

	// Add a new stdout and stderr file each time the node is started.
	var err error
	if stdout == nil {
		if stdout, err = newOutputFile(n.cfg.DataDir, "stdout"); err != nil {
			return err
		}
	}
	if stderr == nil {
		if stderr, err = newOutputFile(n.cfg.DataDir, "stderr"); err != nil {
			return err
		}
	}
	n.stdout = stdout
	n.stderr = stderr

	// Delete any existing cookie file. If such a file exists (e.g. due to
	// an unclean shutdown), it will get overwritten anyway by the node,
	// and could interfere with our attempt to authenticate.
	if err := rpcclient.DeleteCookie(n.cfg.DataDir, n.cfg.Chain); err != nil {
		return err
	}

	args := append(n.baseArgs(), extraArgs...)
	// LIBC_FATAL_STDERR_=1 so libc errors go to stderr, not the terminal.
	env := append(os.Environ(), "LIBC_FATAL_STDERR_=1")

	proc, err := n.creator.NewNodeProcess(n.cfg.BinaryPath, args, env, stdout, stderr)
	if err != nil {
		return fmt.Errorf("could not execute %q %s: %w", n.cfg.BinaryPath, args, err)
	}
	n.process = proc
	n.state = status.Starting
	n.log.Debug("node started, waiting for RPC to come up")
	return nil
}

func newOutputFile(datadir, kind string) (*os.File, error) {
	dir := filepath.Join(datadir, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.CreateTemp(dir, kind+"-*")
}

// IsStopped reports whether the node has stopped. A node that was never
// started counts as stopped. Once the process has exited, the handle is
// released; a non-zero exit code is a hard error, since a clean shutdown
// must always exit 0.
func (n *Node) IsStopped() (bool, error) {
	if n.process == nil {
		return true, nil
	}
	exited, code := n.process.Poll()
	if !exited {
		return false, nil
	}
	if code != 0 {
		return true, n.errorf("node returned non-zero exit code (%d) when stopping", code)
	}
	n.process = nil
	n.rpc = nil
	n.state = status.Stopped
	n.connState = status.Disconnected
	n.log.Debug("node stopped")
	return true, nil
}

// WaitUntilStopped polls IsStopped until it reports true or [timeout]
// elapses. Timeout expiry is a hard failure.
func (n *Node) WaitUntilStopped(timeout time.Duration) error {
	return utils.WaitFor(n.IsStopped, timeout)
}

// StopNode asks the node to shut down via its own `stop` command and
// verifies the captured stderr matches [expectedStderr] (empty for a quiet
// shutdown). It does not wait for the process to exit; use
// WaitUntilStopped for that.
func (n *Node) StopNode(ctx context.Context, expectedStderr string) error {
	if n.process == nil {
		return nil
	}
	n.log.Debug("stopping node")
	if _, err := n.Call(ctx, "stop"); err != nil {
		n.log.Error("unable to stop node", zap.Error(err))
	}

	stderr, err := n.readStderr()
	if err != nil {
		return err
	}
	if stderr != strings.TrimSpace(expectedStderr) {
		return n.errorf("unexpected stderr %q != %q", stderr, expectedStderr)
	}

	n.closeOutputFiles()
	n.p2ps = nil
	return nil
}

func (n *Node) readStderr() (string, error) {
	if n.stderr == nil {
		return "", nil
	}
	contents, err := os.ReadFile(n.stderr.Name())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(contents)), nil
}

func (n *Node) closeOutputFiles() {
	if n.stdout != nil {
		_ = n.stdout.Close()
	}
	if n.stderr != nil {
		_ = n.stderr.Close()
	}
}

// Kill forcefully terminates the node process and its descendants. Used as
// a safety net, not as the normal shutdown path.
func (n *Node) Kill() error {
	if n.process == nil {
		return nil
	}
	err := n.process.Kill()
	n.process = nil
	n.rpc = nil
	n.state = status.Stopped
	n.connState = status.Disconnected
	return err
}

// Close releases the node handle. If a process is still owned and cleanup
// was not disabled, it is killed so no node processes are left lying
// around after the test ends. Callers must Close on every exit path.
func (n *Node) Close() error {
	defer n.closeOutputFiles()
	if n.process != nil && !n.cfg.NoCleanup {
		// Should only happen on test failure.
		n.log.Info("cleaning up leftover process")
		return n.Kill()
	}
	return nil
}

// MemoryRSS is a best-effort query of the node's resident memory. Reports
// ok=false rather than failing when the sample is unavailable; the feature
// is diagnostic, not essential. Safe to call concurrently with other
// methods.
func (n *Node) MemoryRSS() (uint64, bool) {
	if n.process == nil {
		return 0, false
	}
	proc, err := process.NewProcess(int32(n.process.Pid()))
	if err != nil {
		n.log.Warn("unable to get memory usage", zap.Error(err))
		return 0, false
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		n.log.Warn("unable to get memory usage", zap.Error(err))
		return 0, false
	}
	return mem.RSS, true
}

// Call dispatches [method] with positional [args] over the transport
// selected at construction time (RPC or CLI).
func (n *Node) Call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	return n.caller.Call(ctx, method, args, nil)
}

// CallNamed dispatches [method] with named arguments.
func (n *Node) CallNamed(ctx context.Context, method string, named map[string]interface{}) (interface{}, error) {
	return n.caller.Call(ctx, method, nil, named)
}

// Generate mines [nblocks] to the node's deterministic address. It is a
// named alias for `generatetoaddress`, not separate logic.
func (n *Node) Generate(ctx context.Context, nblocks, maxtries int) (interface{}, error) {
	n.log.Debug("Generate dispatches to generatetoaddress")
	key, err := n.DeterministicPrivKey()
	if err != nil {
		return nil, err
	}
	if maxtries <= 0 {
		maxtries = defaultGenerateMaxTries
	}
	return n.Call(ctx, "generatetoaddress", nblocks, key.Address, maxtries)
}

// WalletCaller returns a caller scoped to the named wallet: a CLI invoker
// with a sticky wallet selector in CLI mode, or an RPC handle bound to the
// wallet sub-path otherwise.
func (n *Node) WalletCaller(walletName string) (Caller, error) {
	if n.cfg.UseCLI {
		return n.cli.WithOptions("-rpcwallet=" + walletName), nil
	}
	if n.connState != status.Connected || n.rpc == nil {
		return nil, UsageError(n.errorf("RPC not connected").Error())
	}
	return &rpcCaller{
		node:   n,
		client: n.rpc.WithPath("wallet/" + url.PathEscape(walletName)),
	}, nil
}
