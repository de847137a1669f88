package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btctest/node-harness/rpcclient"
)

// fakeProcess is a NodeProcess whose exit is driven by the test.
type fakeProcess struct {
	lock   sync.Mutex
	exited bool
	code   int
	killed bool
}

func (p *fakeProcess) Poll() (bool, int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.exited, p.code
}

func (p *fakeProcess) Stop(context.Context) error {
	p.exit(0)
	return nil
}

func (p *fakeProcess) Kill() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.exited = true
	p.killed = true
	return nil
}

func (p *fakeProcess) Pid() int {
	return os.Getpid()
}

func (p *fakeProcess) exit(code int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.exited = true
	p.code = code
}

// fakeCreator hands out a canned process and records the launch request.
type fakeCreator struct {
	proc NodeProcess
	err  error

	lastPath string
	lastArgs []string
	lastEnv  []string
}

func (c *fakeCreator) NewNodeProcess(path string, args []string, env []string, stdout, stderr *os.File) (NodeProcess, error) {
	c.lastPath = path
	c.lastArgs = args
	c.lastEnv = env
	if c.err != nil {
		return nil, c.err
	}
	return c.proc, nil
}

// newTestNode returns a node wired to a fake process creator, with a
// datadir and auth cookie already in place.
func newTestNode(t *testing.T, cfg Config) (*Node, *fakeCreator) {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	if cfg.Chain == "" {
		cfg.Chain = "regtest"
	}
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 2 * time.Second
	}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "/usr/bin/env"
	}
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.DataDir, rpcclient.ChainSubdir(cfg.Chain)), 0o755))
	// Credentials come from the config file so they survive the stale-cookie
	// deletion Start performs.
	confPath := filepath.Join(cfg.DataDir, rpcclient.ConfigFileName)
	require.NoError(t, os.WriteFile(confPath, []byte("rpcuser=u\nrpcpassword=p\n"), 0o644))

	n, err := New(cfg)
	require.NoError(t, err)
	creator := &fakeCreator{proc: &fakeProcess{}}
	n.creator = creator
	return n, creator
}

// rpcHandler is a configurable JSON-RPC endpoint for connection tests.
type rpcHandler struct {
	lock sync.Mutex
	// per-method behavior; default answers with "result": 0
	onMethod map[string]func() (interface{}, *rpcclient.RPCError)
	calls    int
}

func (h *rpcHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.lock.Lock()
	h.calls++
	h.lock.Unlock()

	var req struct {
		Method string `json:"method"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	var result interface{} = 0
	var rpcErr *rpcclient.RPCError
	if h.onMethod != nil {
		if fn, ok := h.onMethod[req.Method]; ok {
			result, rpcErr = fn()
		}
	}
	if rpcErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		resp, _ := json.Marshal(map[string]interface{}{"result": nil, "error": rpcErr, "id": 1})
		_, _ = w.Write(resp)
		return
	}
	resp, _ := json.Marshal(map[string]interface{}{"result": result, "error": nil, "id": 1})
	_, _ = w.Write(resp)
}

func (h *rpcHandler) callCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.calls
}

// startRPCServer serves [handler] and points [cfg] at it.
func startRPCServer(t *testing.T, handler http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().String()
}

// notReadyThenReady answers the liveness query with the given error code
// [failures] times before reporting a height.
func notReadyThenReady(code, failures int) map[string]func() (interface{}, *rpcclient.RPCError) {
	var lock sync.Mutex
	remaining := failures
	return map[string]func() (interface{}, *rpcclient.RPCError){
		"getblockcount": func() (interface{}, *rpcclient.RPCError) {
			lock.Lock()
			defer lock.Unlock()
			if remaining > 0 {
				remaining--
				return nil, &rpcclient.RPCError{Code: code, Message: "node is not ready"}
			}
			return 200, nil
		},
	}
}
