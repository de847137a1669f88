// Package run implements the `run` command: bring up a set of nodes, wait
// for their RPC interfaces, report their heights and shut them down again.
// Useful for smoke-testing a node binary outside of a test suite.
package run

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/btctest/node-harness/harness"
	"github.com/btctest/node-harness/pkg/logutil"
)

var (
	logLevel   string
	binaryPath string
	cliPath    string
	chain      string
	rootDir    string
	numNodes   int
	mockTime   int64
	rpcTimeout time.Duration
	useCLI     bool
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [options]",
		Short: "Starts nodes, waits for RPC, prints their height and stops them.",
		RunE:  runFunc,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.PersistentFlags().StringVar(&binaryPath, "binary", "", "path to the node binary")
	cmd.PersistentFlags().StringVar(&cliPath, "cli", "", "path to the companion CLI binary")
	cmd.PersistentFlags().StringVar(&chain, "chain", "regtest", "chain selector")
	cmd.PersistentFlags().StringVar(&rootDir, "root-dir", "", "directory for datadirs (default: temp dir)")
	cmd.PersistentFlags().IntVar(&numNodes, "nodes", 1, "number of nodes to start")
	cmd.PersistentFlags().Int64Var(&mockTime, "mocktime", 0, "simulated clock value")
	cmd.PersistentFlags().DurationVar(&rpcTimeout, "rpc-timeout", 60*time.Second, "per-node RPC connection timeout")
	cmd.PersistentFlags().BoolVar(&useCLI, "use-cli", false, "dispatch calls through the CLI binary instead of RPC")

	return cmd
}

func runFunc(*cobra.Command, []string) error {
	logger, err := logutil.GetZapLogger(logLevel)
	if err != nil {
		return err
	}
	_ = zap.ReplaceGlobals(logger)

	h, err := harness.New(harness.Config{
		NumNodes:   numNodes,
		BinaryPath: binaryPath,
		CLIPath:    cliPath,
		Chain:      chain,
		RootDir:    rootDir,
		MockTime:   mockTime,
		RPCTimeout: rpcTimeout,
		UseCLI:     useCLI,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := h.Stop(ctx); err != nil {
			zap.L().Error("error stopping harness", zap.Error(err))
		}
	}()

	for i := 0; i < h.NumNodes(); i++ {
		n, err := h.Node(i)
		if err != nil {
			return err
		}
		height, err := n.Call(ctx, "getblockcount")
		if err != nil {
			return err
		}
		zap.L().Info("node is up",
			zap.Int("node", i),
			zap.String("url", n.URL()),
			zap.Any("height", height),
		)
	}
	return nil
}
