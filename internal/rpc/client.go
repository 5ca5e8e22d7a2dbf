// Package rpc implements the typed JSON-RPC/1.0 client the confirmation
// tracker and historical backfill use to talk to the Bitcoin SV node.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

// DefaultCallTimeout is the hard per-call deadline (RPC_CALL_TIMEOUT).
const DefaultCallTimeout = 5 * time.Second

// Client is a JSON-RPC/1.0-over-HTTP-Basic client for a single node.
type Client struct {
	httpClient  *http.Client
	url         string
	user, pass  string
	requestID   atomic.Int64
	callTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithHTTPClient overrides the underlying *http.Client (tests use this to
// install a fake transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client targeting url, authenticating with HTTP Basic.
func NewClient(url, user, pass string, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{},
		url:         url,
		user:        user,
		pass:        pass,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorWire   `json:"error"`
}

type rpcErrorWire struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call performs a single JSON-RPC 1.0 request, enforcing the per-call
// timeout and translating transport/application failures into the
// component's error taxonomy (RpcTimeout, RpcUnavailable, RpcError).
func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req := request{
		JSONRPC: "1.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrRpcUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.user, c.pass)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", model.ErrRpcTimeout, method)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrRpcUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", model.ErrRpcUnavailable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: unauthorized", model.ErrRpcUnavailable)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: http %d", model.ErrRpcUnavailable, resp.StatusCode)
	}

	var rpcResp response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", model.ErrRpcUnavailable, err)
	}
	if rpcResp.Error != nil {
		return nil, &model.RpcError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	return rpcResp.Result, nil
}

// GetBlockCount returns the node's current tip height.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "getblockcount", nil)
	if err != nil {
		return 0, err
	}
	var height int64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, fmt.Errorf("%w: unmarshal block count: %v", model.ErrRpcUnavailable, err)
	}
	return height, nil
}

// VerboseTransaction is the subset of getrawtransaction's verbose result the
// pipeline cares about.
type VerboseTransaction struct {
	Hex           string `json:"hex"`
	BlockHash     string `json:"blockhash"`
	BlockHeight   int64  `json:"blockheight"`
	BlockTime     int64  `json:"blocktime"`
	Confirmations int64  `json:"confirmations"`
}

// GetRawTransaction fetches the verbose representation of txid. For a
// mempool-only transaction the node returns no block association data, so
// the result's BlockHash is ""; callers must check it.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (*VerboseTransaction, error) {
	result, err := c.call(ctx, "getrawtransaction", []interface{}{txid, true})
	if err != nil {
		return nil, err
	}
	var tx VerboseTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("%w: unmarshal transaction: %v", model.ErrRpcUnavailable, err)
	}
	return &tx, nil
}
