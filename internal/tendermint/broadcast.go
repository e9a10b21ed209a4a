package tendermint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"coffee.mini/bmc/internal/types"
)

const defaultRPCAddr = "http://localhost:26657"

// TxError is returned when the application rejects a transaction. Code and
// Log are the ABCI response code and log, which carry the ledger error kind
// and reason.
type TxError struct {
	Stage string // check_tx or deliver_tx
	Code  uint32
	Log   string
	Hash  string
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s failed with code %d: %s", e.Stage, e.Code, e.Log)
}

// TxResult describes an accepted transaction.
type TxResult struct {
	Hash   string
	Height int64 // zero for sync broadcasts
	Log    string
}

// QueryResult is the answer of an ABCI query.
type QueryResult struct {
	Code   uint32
	Log    string
	Value  []byte
	Height int64
}

// RPCClient talks to the Tendermint JSON-RPC endpoint.
type RPCClient struct {
	rpcAddr string
	client  *http.Client
}

// NewRPCClient creates a client for rpcAddr (e.g. "http://localhost:26657").
func NewRPCClient(rpcAddr string) *RPCClient {
	if rpcAddr == "" {
		rpcAddr = defaultRPCAddr
	}
	return &RPCClient{
		rpcAddr: rpcAddr,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

type abciResult struct {
	Code uint32 `json:"code"`
	Log  string `json:"log"`
}

// call performs one JSON-RPC request and decodes its result into out.
func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	reqBytes, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal RPC request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcAddr, bytes.NewReader(reqBytes))
	if err != nil {
		return errors.Wrap(err, "failed to build RPC request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send RPC request")
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read RPC response")
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return errors.Wrapf(err, "failed to parse RPC response (body: %s)", string(respBytes))
	}
	if rpcResp.Error != nil {
		return errors.Errorf("RPC error %d: %s (%s)", rpcResp.Error.Code, rpcResp.Error.Message, rpcResp.Error.Data)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(rpcResp.Result, out), "failed to decode RPC result")
}

// BroadcastTxSync submits tx and returns once CheckTx has run.
func (c *RPCClient) BroadcastTxSync(ctx context.Context, tx []byte) (*TxResult, error) {
	var res struct {
		abciResult
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, "broadcast_tx_sync", txParams(tx), &res); err != nil {
		return nil, err
	}
	if res.Code != 0 {
		return nil, &TxError{Stage: "check_tx", Code: res.Code, Log: res.Log, Hash: res.Hash}
	}
	return &TxResult{Hash: res.Hash, Log: res.Log}, nil
}

// BroadcastTxCommit submits tx and waits until it is included in a block.
func (c *RPCClient) BroadcastTxCommit(ctx context.Context, tx []byte) (*TxResult, error) {
	var res struct {
		CheckTx   abciResult `json:"check_tx"`
		DeliverTx abciResult `json:"deliver_tx"`
		Hash      string     `json:"hash"`
		Height    string     `json:"height"`
	}
	if err := c.call(ctx, "broadcast_tx_commit", txParams(tx), &res); err != nil {
		return nil, err
	}
	if res.CheckTx.Code != 0 {
		return nil, &TxError{Stage: "check_tx", Code: res.CheckTx.Code, Log: res.CheckTx.Log, Hash: res.Hash}
	}
	if res.DeliverTx.Code != 0 {
		return nil, &TxError{Stage: "deliver_tx", Code: res.DeliverTx.Code, Log: res.DeliverTx.Log, Hash: res.Hash}
	}
	height, _ := strconv.ParseInt(res.Height, 10, 64)
	return &TxResult{Hash: res.Hash, Height: height, Log: res.DeliverTx.Log}, nil
}

// BroadcastSignedTransaction encodes and submits a signed transaction. With
// commit set it waits for the block.
func (c *RPCClient) BroadcastSignedTransaction(ctx context.Context, stx *types.SignedTransaction, commit bool) (*TxResult, error) {
	raw, err := stx.Encode()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal transaction")
	}
	if commit {
		return c.BroadcastTxCommit(ctx, raw)
	}
	return c.BroadcastTxSync(ctx, raw)
}

// ABCIQuery runs an application query at the latest height.
func (c *RPCClient) ABCIQuery(ctx context.Context, path string) (*QueryResult, error) {
	var res struct {
		Response struct {
			Code   uint32 `json:"code"`
			Log    string `json:"log"`
			Value  []byte `json:"value"`
			Height string `json:"height"`
		} `json:"response"`
	}
	if err := c.call(ctx, "abci_query", map[string]interface{}{"path": path, "data": ""}, &res); err != nil {
		return nil, err
	}
	height, _ := strconv.ParseInt(res.Response.Height, 10, 64)
	return &QueryResult{
		Code:   res.Response.Code,
		Log:    res.Response.Log,
		Value:  res.Response.Value,
		Height: height,
	}, nil
}

// Tendermint expects tx bytes as a base64 string in JSON-RPC params.
func txParams(tx []byte) map[string]string {
	return map[string]string{"tx": base64.StdEncoding.EncodeToString(tx)}
}
