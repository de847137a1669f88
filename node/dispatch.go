package node

import (
	"context"

	"github.com/btctest/node-harness/node/status"
	"github.com/btctest/node-harness/rpcclient"
)

// Caller is the uniform dispatch surface: the same logical call works
// whether it is carried over RPC or the companion CLI. Exactly one of
// [positional] and [named] may be non-empty.
type Caller interface {
	Call(ctx context.Context, method string, positional []interface{}, named map[string]interface{}) (interface{}, error)
}

var (
	_ Caller = (*rpcCaller)(nil)
	_ Caller = (*CLI)(nil)
)

// rpcCaller forwards calls to the node's live RPC connection. Calling
// before the connection is established is a programming error in the test,
// not a runtime condition to recover from.
type rpcCaller struct {
	node *Node
	// Non-nil for wallet-scoped callers; otherwise the node's current
	// connection is used.
	client *rpcclient.Client
}

func (c *rpcCaller) Call(ctx context.Context, method string, positional []interface{}, named map[string]interface{}) (interface{}, error) {
	if len(positional) > 0 && len(named) > 0 {
		return nil, UsageError("cannot use positional arguments and named arguments in the same RPC call")
	}

	client := c.client
	if client == nil {
		if c.node.connState != status.Connected || c.node.rpc == nil {
			return nil, UsageError(c.node.errorf("no RPC connection").Error())
		}
		client = c.node.rpc
	}

	var params interface{}
	if named != nil {
		params = named
	} else {
		params = positional
	}

	raw, err := client.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return decodeJSONResult(raw)
}
