// Package harness coordinates a set of nodes under test: datadir and
// config-file creation, parallel startup and connection establishment, and
// deterministic teardown.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/btctest/node-harness/node"
	"github.com/btctest/node-harness/rpcclient"
	"github.com/btctest/node-harness/utils"
)

const (
	defaultNumNodes   = 1
	defaultRPCTimeout = 60 * time.Second
	stopTimeout       = 60 * time.Second
)

// Config describes a harness run.
type Config struct {
	// Number of nodes to set up. Defaults to 1.
	NumNodes int
	// Path to the node binary. Required.
	BinaryPath string
	// Path to the companion CLI binary. Required when UseCLI is set.
	CLIPath string
	// Chain selector for every node, e.g. "regtest".
	Chain string
	// RootDir is where datadirs are created. Empty means a fresh
	// temporary directory.
	RootDir string
	// MockTime is the simulated clock value passed to every node.
	MockTime int64
	// RPCTimeout bounds each node's connection establishment.
	// Defaults to 60s.
	RPCTimeout time.Duration
	// UseCLI selects CLI-mode dispatch for every node.
	UseCLI bool
	// EphemeralPorts assigns each node free TCP ports instead of the
	// deterministic index-based scheme, so several harnesses can share a
	// machine. Peer connections must then use AddP2PConnectionTo with the
	// explicit port.
	EphemeralPorts bool
	// ExtraArgs holds per-node extra startup arguments; entry i applies
	// to node i. May be shorter than NumNodes.
	ExtraArgs [][]string
}

// Validate checks the config and fills defaults in place.
func (c *Config) Validate() error {
	if c.NumNodes <= 0 {
		c.NumNodes = defaultNumNodes
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = defaultRPCTimeout
	}
	if c.BinaryPath == "" {
		return errors.New("no node binary given")
	}
	if _, err := os.Stat(c.BinaryPath); err != nil {
		return fmt.Errorf("failed to stat node binary %q: %w", c.BinaryPath, err)
	}
	if c.UseCLI {
		if c.CLIPath == "" {
			return errors.New("CLI-mode dispatch requires a CLI binary")
		}
		if _, err := os.Stat(c.CLIPath); err != nil {
			return fmt.Errorf("failed to stat CLI binary %q: %w", c.CLIPath, err)
		}
	}
	if len(c.ExtraArgs) > c.NumNodes {
		return fmt.Errorf("extra args given for %d nodes but only %d configured", len(c.ExtraArgs), c.NumNodes)
	}
	return nil
}

// Harness owns the node handles of one test run. Nodes are independent and
// may be driven concurrently once Start returns.
type Harness struct {
	log     *zap.Logger
	rootDir string
	nodes   []*node.Node
}

// New creates the harness: a datadir with a base config file per node
// slot, and a node handle for each. No processes are started.
func New(cfg Config) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config failed validation: %w", err)
	}

	rootDir := cfg.RootDir
	if rootDir == "" {
		var err error
		rootDir, err = os.MkdirTemp("", "node-harness-*")
		if err != nil {
			return nil, err
		}
	}

	h := &Harness{
		log:     zap.L(),
		rootDir: rootDir,
	}
	h.log.Info("creating harness", zap.Int("nodes", cfg.NumNodes), zap.String("rootDir", rootDir))

	for i := 0; i < cfg.NumNodes; i++ {
		p2pPort := rpcclient.P2PPort(i)
		rpcPort := rpcclient.RPCPort(i)
		var rpcHost string
		if cfg.EphemeralPorts {
			var err error
			if p2pPort, err = utils.GetFreePort(); err != nil {
				return nil, fmt.Errorf("couldn't allocate p2p port for node %d: %w", i, err)
			}
			if rpcPort, err = utils.GetFreePort(); err != nil {
				return nil, fmt.Errorf("couldn't allocate rpc port for node %d: %w", i, err)
			}
			// Off the deterministic scheme, the node handle must be told
			// where its RPC interface lives.
			rpcHost = fmt.Sprintf("127.0.0.1:%d", rpcPort)
		}

		datadir, err := initDataDir(rootDir, i, cfg.Chain, p2pPort, rpcPort)
		if err != nil {
			return nil, err
		}
		var extraArgs []string
		if i < len(cfg.ExtraArgs) {
			extraArgs = cfg.ExtraArgs[i]
		}
		n, err := node.New(node.Config{
			Index:      i,
			DataDir:    datadir,
			Chain:      cfg.Chain,
			RPCHost:    rpcHost,
			RPCTimeout: cfg.RPCTimeout,
			BinaryPath: cfg.BinaryPath,
			CLIPath:    cfg.CLIPath,
			MockTime:   cfg.MockTime,
			ExtraArgs:  extraArgs,
			UseCLI:     cfg.UseCLI,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating node %d: %w", i, err)
		}
		h.nodes = append(h.nodes, n)
	}
	return h, nil
}

// initDataDir creates the datadir for node [index] under [rootDir] and
// writes its base config file: chain selection, listen ports, and the
// settings every node under test runs with.
func initDataDir(rootDir string, index int, chain string, p2pPort, rpcPort uint16) (string, error) {
	datadir := filepath.Join(rootDir, fmt.Sprintf("node%d", index))
	if err := os.MkdirAll(datadir, 0o755); err != nil {
		return "", err
	}

	lines := make([]string, 0, 10)
	if sub := rpcclient.ChainSubdir(chain); sub != "" {
		lines = append(lines, "chain="+chain, "["+chain+"]")
	}
	lines = append(lines,
		fmt.Sprintf("port=%d", p2pPort),
		fmt.Sprintf("rpcport=%d", rpcPort),
		"server=1",
		"keypool=1",
		"discover=0",
		"listenonion=0",
		"printtoconsole=0",
	)

	confPath := filepath.Join(datadir, rpcclient.ConfigFileName)
	contents := ""
	for _, line := range lines {
		contents += line + "\n"
	}
	if err := utils.CreateFileAndWrite(confPath, []byte(contents)); err != nil {
		return "", fmt.Errorf("couldn't write config file for node %d: %w", index, err)
	}
	return datadir, nil
}

// AppendConfig appends raw config-file lines to node [index]'s config.
// Must be called before the node starts to take effect.
func (h *Harness) AppendConfig(index int, lines []string) error {
	n, err := h.Node(index)
	if err != nil {
		return err
	}
	return utils.AppendToFile(filepath.Join(n.DataDir(), rpcclient.ConfigFileName), lines)
}

// NumNodes returns how many node slots the harness manages.
func (h *Harness) NumNodes() int { return len(h.nodes) }

// RootDir returns the directory all datadirs live under.
func (h *Harness) RootDir() string { return h.rootDir }

// Node returns the handle for slot [index].
func (h *Harness) Node(index int) (*node.Node, error) {
	if index < 0 || index >= len(h.nodes) {
		return nil, fmt.Errorf("node %d not found in harness", index)
	}
	return h.nodes[index], nil
}

// Start launches every node and blocks until each one's RPC interface is
// reachable. On any failure the already-started nodes are torn down.
func (h *Harness) Start(ctx context.Context) error {
	for i, n := range h.nodes {
		if err := n.Start(nil, nil, nil); err != nil {
			stopErr := h.Stop(ctx)
			return errors.Join(fmt.Errorf("error starting node %d: %w", i, err), stopErr)
		}
	}

	eg, cctx := errgroup.WithContext(ctx)
	for _, n := range h.nodes {
		n := n
		eg.Go(func() error {
			return n.WaitForRPCConnection(cctx)
		})
	}
	if err := eg.Wait(); err != nil {
		stopErr := h.Stop(ctx)
		return errors.Join(err, stopErr)
	}
	h.log.Info("all nodes up", zap.Int("nodes", len(h.nodes)))
	return nil
}

// Stop shuts every node down and reaps the processes. Errors are collected
// rather than aborting the teardown; any leftover process is killed.
func (h *Harness) Stop(ctx context.Context) error {
	var errs []error
	for i, n := range h.nodes {
		if err := h.stopNode(ctx, n); err != nil {
			h.log.Error("error stopping node", zap.Int("node", i), zap.Error(err))
			errs = append(errs, err)
		}
	}
	h.log.Info("done stopping harness")
	return errors.Join(errs...)
}

func (h *Harness) stopNode(ctx context.Context, n *node.Node) error {
	defer func() {
		// Kill anything still owned so no processes outlive the test.
		_ = n.Close()
	}()
	stopped, err := n.IsStopped()
	if err != nil {
		// A node that exited non-zero before teardown is a test failure,
		// not a clean stop.
		return err
	}
	if stopped {
		return nil
	}
	n.DisconnectP2Ps()
	if err := n.StopNode(ctx, ""); err != nil {
		return err
	}
	return n.WaitUntilStopped(stopTimeout)
}
