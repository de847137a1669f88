package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btctest/node-harness/rpcclient"
)

const testBinary = "/usr/bin/env"

func TestConfigValidate(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Config{BinaryPath: testBinary}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 1, cfg.NumNodes)
		assert.Equal(t, 60*time.Second, cfg.RPCTimeout)
	})

	t.Run("missing binary", func(t *testing.T) {
		cfg := Config{}
		require.Error(t, cfg.Validate())
	})

	t.Run("nonexistent binary", func(t *testing.T) {
		cfg := Config{BinaryPath: "/nonexistent/noded"}
		require.Error(t, cfg.Validate())
	})

	t.Run("cli mode requires cli binary", func(t *testing.T) {
		cfg := Config{BinaryPath: testBinary, UseCLI: true}
		require.Error(t, cfg.Validate())

		cfg = Config{BinaryPath: testBinary, UseCLI: true, CLIPath: testBinary}
		require.NoError(t, cfg.Validate())
	})

	t.Run("too many extra args", func(t *testing.T) {
		cfg := Config{
			BinaryPath: testBinary,
			NumNodes:   1,
			ExtraArgs:  [][]string{{"-a"}, {"-b"}},
		}
		require.Error(t, cfg.Validate())
	})
}

func TestNewCreatesDataDirs(t *testing.T) {
	root := t.TempDir()
	h, err := New(Config{
		NumNodes:   2,
		BinaryPath: testBinary,
		Chain:      "regtest",
		RootDir:    root,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, h.NumNodes())
	assert.Equal(t, root, h.RootDir())

	for i := 0; i < 2; i++ {
		datadir := filepath.Join(root, fmt.Sprintf("node%d", i))
		contents, err := os.ReadFile(filepath.Join(datadir, rpcclient.ConfigFileName))
		require.NoError(t, err)
		conf := string(contents)

		assert.Contains(t, conf, "chain=regtest\n")
		assert.Contains(t, conf, "[regtest]\n")
		assert.Contains(t, conf, fmt.Sprintf("port=%d\n", rpcclient.P2PPort(i)))
		assert.Contains(t, conf, fmt.Sprintf("rpcport=%d\n", rpcclient.RPCPort(i)))
		assert.Contains(t, conf, "server=1\n")

		n, err := h.Node(i)
		require.NoError(t, err)
		assert.Equal(t, i, n.Index())
		assert.Equal(t, datadir, n.DataDir())
	}
}

func TestNewMainChainConfigHasNoSection(t *testing.T) {
	root := t.TempDir()
	_, err := New(Config{BinaryPath: testBinary, Chain: "main", RootDir: root})
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(root, "node0", rpcclient.ConfigFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(contents), "chain=")
	assert.NotContains(t, string(contents), "[main]")
}

func TestNewEphemeralPorts(t *testing.T) {
	root := t.TempDir()
	_, err := New(Config{
		BinaryPath:     testBinary,
		Chain:          "regtest",
		RootDir:        root,
		EphemeralPorts: true,
	})
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(root, "node0", rpcclient.ConfigFileName))
	require.NoError(t, err)
	conf := string(contents)

	// the deterministic ports are replaced with freshly allocated ones
	assert.NotContains(t, conf, fmt.Sprintf("port=%d\n", rpcclient.P2PPort(0)))
	assert.NotContains(t, conf, fmt.Sprintf("rpcport=%d\n", rpcclient.RPCPort(0)))
	assert.Regexp(t, `(?m)^port=\d+$`, conf)
	assert.Regexp(t, `(?m)^rpcport=\d+$`, conf)
}

func TestNewUsesTempRootDir(t *testing.T) {
	h, err := New(Config{BinaryPath: testBinary, Chain: "regtest"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(h.RootDir()) })

	assert.NotEmpty(t, h.RootDir())
	assert.DirExists(t, filepath.Join(h.RootDir(), "node0"))
}

func TestAppendConfig(t *testing.T) {
	root := t.TempDir()
	h, err := New(Config{BinaryPath: testBinary, Chain: "regtest", RootDir: root})
	require.NoError(t, err)

	require.NoError(t, h.AppendConfig(0, []string{"fallbackfee=0.0002", "maxmempool=100"}))

	contents, err := os.ReadFile(filepath.Join(root, "node0", rpcclient.ConfigFileName))
	require.NoError(t, err)
	assert.Contains(t, string(contents), "fallbackfee=0.0002\n")
	assert.Contains(t, string(contents), "maxmempool=100\n")

	require.Error(t, h.AppendConfig(5, []string{"x=1"}))
}

func TestNodeOutOfRange(t *testing.T) {
	h, err := New(Config{BinaryPath: testBinary, Chain: "regtest", RootDir: t.TempDir()})
	require.NoError(t, err)

	_, err = h.Node(-1)
	require.Error(t, err)
	_, err = h.Node(1)
	require.Error(t, err)
}

func TestStopReportsCrashedNode(t *testing.T) {
	h, err := New(Config{BinaryPath: "/bin/false", Chain: "regtest", RootDir: t.TempDir()})
	require.NoError(t, err)
	n, err := h.Node(0)
	require.NoError(t, err)

	// the node binary exits 1 immediately, i.e. the node crashed
	require.NoError(t, n.Start(nil, nil, nil))
	require.Eventually(t, func() bool {
		stopped, _ := n.IsStopped()
		return stopped
	}, 5*time.Second, 50*time.Millisecond)

	err = h.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-zero exit code")
}

func TestStopNeverStartedNodesIsNoOp(t *testing.T) {
	h, err := New(Config{NumNodes: 3, BinaryPath: testBinary, Chain: "regtest", RootDir: t.TempDir()})
	require.NoError(t, err)

	assert.NoError(t, h.Stop(context.Background()))
}
