// Package rpcclient implements a minimal HTTP JSON-RPC client for driving a
// node under test, plus resolution of the node's RPC endpoint and
// credentials from its datadir.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

type rpcRequest struct {
	Version string      `json:"version"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client is an HTTP JSON-RPC client bound to one node endpoint.
type Client struct {
	endpoint string // scheme://host:port[/path], credentials stripped
	username string
	password string

	httpClient *http.Client
	nextID     *int64
}

// New creates a client for [rawurl], which may carry credentials in its
// userinfo section (as produced by URL).
func New(rawurl string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("invalid RPC URL %q: %w", rawurl, err)
	}
	var user, password string
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
		u.User = nil
	}
	return &Client{
		endpoint: u.String(),
		username: user,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		nextID: new(int64),
	}, nil
}

// URL returns the resolved endpoint without credentials.
func (c *Client) URL() string {
	return c.endpoint
}

// WithPath returns a client scoped to a sub-path of this client's endpoint,
// e.g. "wallet/<name>". The receiver is not modified.
func (c *Client) WithPath(sub string) *Client {
	cp := *c
	cp.endpoint = c.endpoint + "/" + sub
	return &cp
}

// Call issues [method] with [params] (a positional slice or a named map;
// nil means no parameters) and returns the raw result. A structured error
// response is returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		Version: "1.1",
		ID:      atomic.AddInt64(c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for %q: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response to %q: %w", method, err)
	}

	// The node reports structured errors with a non-2xx status and a
	// JSON-RPC body, so decode the body before looking at the status.
	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%q returned HTTP %d: %s", method, httpResp.StatusCode, respBody)
		}
		return nil, fmt.Errorf("failed to unmarshal response to %q: %w", method, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}
