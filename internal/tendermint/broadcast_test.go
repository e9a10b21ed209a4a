package tendermint

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// fakeRPC answers every request with the result returned by respond.
func fakeRPC(t *testing.T, respond func(req rpcRequest) string) *RPCClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(respond(req)))
	}))
	t.Cleanup(srv.Close)
	return NewRPCClient(srv.URL)
}

func TestBroadcastTxSyncSendsBase64(t *testing.T) {
	var got rpcRequest
	c := fakeRPC(t, func(req rpcRequest) string {
		got = req
		return `{"jsonrpc":"2.0","id":1,"result":{"code":0,"log":"","hash":"ABCD"}}`
	})

	res, err := c.BroadcastTxSync(context.Background(), []byte(`{"tx":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "ABCD", res.Hash)
	assert.Equal(t, "broadcast_tx_sync", got.Method)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(`{"tx":"x"}`)), got.Params["tx"])
}

func TestBroadcastTxSyncSurfacesCheckTxFailure(t *testing.T) {
	c := fakeRPC(t, func(rpcRequest) string {
		return `{"result":{"code":11,"log":"insufficient funds","hash":"FF"}}`
	})

	_, err := c.BroadcastTxSync(context.Background(), []byte("tx"))
	var txErr *TxError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, uint32(11), txErr.Code)
	assert.Equal(t, "check_tx", txErr.Stage)
	assert.Equal(t, "insufficient funds", txErr.Log)
}

func TestBroadcastTxCommit(t *testing.T) {
	c := fakeRPC(t, func(rpcRequest) string {
		return `{"result":{"check_tx":{"code":0},"deliver_tx":{"code":0,"log":"ok"},"hash":"AA","height":"12"}}`
	})

	res, err := c.BroadcastTxCommit(context.Background(), []byte("tx"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Height)
	assert.Equal(t, "AA", res.Hash)
}

func TestBroadcastTxCommitSurfacesDeliverTxFailure(t *testing.T) {
	c := fakeRPC(t, func(rpcRequest) string {
		return `{"result":{"check_tx":{"code":0},"deliver_tx":{"code":4,"log":"InvalidInput: message cannot be empty"},"hash":"AA","height":"3"}}`
	})

	_, err := c.BroadcastTxCommit(context.Background(), []byte("tx"))
	var txErr *TxError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, "deliver_tx", txErr.Stage)
	assert.Equal(t, uint32(4), txErr.Code)
	assert.Contains(t, err.Error(), "message cannot be empty")
}

func TestRPCError(t *testing.T) {
	c := fakeRPC(t, func(rpcRequest) string {
		return `{"error":{"code":-32603,"message":"Internal error","data":"tx already exists in cache"}}`
	})

	_, err := c.BroadcastTxSync(context.Background(), []byte("tx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx already exists in cache")
}

func TestABCIQuery(t *testing.T) {
	var got rpcRequest
	c := fakeRPC(t, func(req rpcRequest) string {
		got = req
		value := base64.StdEncoding.EncodeToString([]byte("4500000000000000"))
		return `{"result":{"response":{"code":0,"value":"` + value + `","height":"9"}}}`
	})

	res, err := c.ABCIQuery(context.Background(), "/balance")
	require.NoError(t, err)
	assert.Equal(t, "abci_query", got.Method)
	assert.Equal(t, "/balance", got.Params["path"])
	assert.Equal(t, "4500000000000000", string(res.Value))
	assert.Equal(t, int64(9), res.Height)
}

func TestCallHonoursContext(t *testing.T) {
	c := fakeRPC(t, func(rpcRequest) string { return `{"result":{}}` })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.BroadcastTxSync(ctx, []byte("tx"))
	assert.Error(t, err)
}

func TestUnixSocketPath(t *testing.T) {
	path, ok := unixSocketPath("unix://bmc.sock")
	assert.True(t, ok)
	assert.Equal(t, "bmc.sock", path)

	_, ok = unixSocketPath("tcp://127.0.0.1:26658")
	assert.False(t, ok)
}
