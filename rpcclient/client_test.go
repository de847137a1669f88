package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSuccess(t *testing.T) {
	var gotMethod string
	var gotUser, gotPassword string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPassword, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		var req map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &req))
		gotMethod = req["method"].(string)
		fmt.Fprint(w, `{"result": 123, "error": null, "id": 1}`)
	}))
	defer srv.Close()

	c, err := New("http://alice:pw@"+srv.Listener.Addr().String(), time.Second)
	require.NoError(t, err)

	raw, err := c.Call(context.Background(), "getblockcount", nil)
	require.NoError(t, err)
	assert.Equal(t, "getblockcount", gotMethod)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "pw", gotPassword)
	assert.JSONEq(t, "123", string(raw))
}

func TestCallStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the node reports RPC errors with a 500 status and a JSON body
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"result": null, "error": {"code": -28, "message": "Loading block index..."}, "id": 1}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "getblockcount", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeInWarmup, rpcErr.Code)
	assert.Equal(t, "Loading block index...", rpcErr.Message)
}

func TestCallNonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "gateway says no")
	}))
	defer srv.Close()

	c, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "getblockcount", nil)
	require.Error(t, err)
	var rpcErr *RPCError
	assert.False(t, errors.As(err, &rpcErr))
	assert.Contains(t, err.Error(), "502")
}

func TestCallParams(t *testing.T) {
	var gotParams json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		gotParams = req.Params
		fmt.Fprint(w, `{"result": null, "error": null, "id": 1}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "generatetoaddress", []interface{}{10, "addr"})
	require.NoError(t, err)
	assert.JSONEq(t, `[10, "addr"]`, string(gotParams))

	_, err = c.Call(context.Background(), "getbalance", map[string]interface{}{"minconf": 6})
	require.NoError(t, err)
	assert.JSONEq(t, `{"minconf": 6}`, string(gotParams))

	// nil params go out as an empty positional list
	_, err = c.Call(context.Background(), "getblockcount", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(gotParams))
}

func TestWithPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"result": null, "error": null, "id": 1}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	scoped := c.WithPath("wallet/w1")
	_, err = scoped.Call(context.Background(), "getbalance", nil)
	require.NoError(t, err)
	assert.Equal(t, "/wallet/w1", gotPath)

	// the original client is not modified
	_, err = c.Call(context.Background(), "getblockcount", nil)
	require.NoError(t, err)
	assert.Equal(t, "/", gotPath)
}
