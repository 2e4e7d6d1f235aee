package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/btcsuite/btcutil/base58"
	tmrpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
	"github.com/tidwall/gjson"

	"github.com/GPTx-global/near-oracle/oracle/types"
)

type QueryStyle string

const (
	// QueryStylePath sends positional params ["call/<contract>/<method>", base58(args)].
	QueryStylePath QueryStyle = "path"
	// QueryStyleCallFunction sends the request_type=call_function object form.
	QueryStyleCallFunction QueryStyle = "call_function"

	DefaultTimeout = 10 * time.Second

	maxResponseSize = 16 << 20
)

// CallRequest identifies a read-only contract view call.
type CallRequest struct {
	Contract string
	Method   string
	Args     []byte
}

// Path is the legacy query path, e.g. "call/v0.oracle.testnet/get_all_requests".
func (r CallRequest) Path() string {
	return fmt.Sprintf("call/%s/%s", r.Contract, r.Method)
}

// EncodedArgs is the base58 form of Args; "{}" encodes to "AQ4".
func (r CallRequest) EncodedArgs() string {
	return base58.Encode(r.Args)
}

// CallResult is the result object of a view call.
type CallResult struct {
	Result      ResultBytes `json:"result"`
	Logs        []string    `json:"logs"`
	BlockHeight uint64      `json:"block_height"`
	BlockHash   string      `json:"block_hash"`
	Error       string      `json:"error,omitempty"`
}

// ResultBytes decodes the JSON array of byte values NEAR returns for a
// function call result.
type ResultBytes []byte

func (b *ResultBytes) UnmarshalJSON(data []byte) error {
	v := gjson.ParseBytes(data)
	if v.Type == gjson.Null {
		*b = nil
		return nil
	}
	if !v.IsArray() {
		return fmt.Errorf("result is %s, want byte array", v.Type)
	}

	out := make([]byte, 0, len(data)/3)
	var err error
	v.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Number || value.Num != math.Trunc(value.Num) || value.Num < 0 || value.Num > 255 {
			err = fmt.Errorf("result element %d is not a byte: %s", len(out), value.Raw)
			return false
		}
		out = append(out, byte(value.Num))
		return true
	})
	if err != nil {
		return err
	}

	*b = out
	return nil
}

// StatusResult is the subset of the node status the daemon looks at.
type StatusResult struct {
	ChainID  string `json:"chain_id"`
	SyncInfo struct {
		LatestBlockHeight uint64 `json:"latest_block_height"`
		Syncing           bool   `json:"syncing"`
	} `json:"sync_info"`
}

// Client talks JSON-RPC 2.0 to a NEAR node over HTTP.
type Client struct {
	endpoint   string
	style      QueryStyle
	httpClient *http.Client
	nextID     atomic.Int64
}

type Option func(*Client)

func WithQueryStyle(style QueryStyle) Option {
	return func(c *Client) {
		c.style = style
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid rpc endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid rpc endpoint %q: scheme must be http or https", endpoint)
	}

	c := &Client{
		endpoint: endpoint,
		style:    QueryStylePath,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	switch c.style {
	case QueryStylePath, QueryStyleCallFunction:
	default:
		return nil, fmt.Errorf("unknown query style %q", c.style)
	}

	return c, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Call runs a read-only contract function. Every failure, including a
// contract-side execution error, is reported as types.ErrNetwork.
func (c *Client) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	params, err := c.queryParams(req)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrNetwork, "failed to encode query params: %v", err)
	}

	result := new(CallResult)
	if err := c.call(ctx, "query", params, result); err != nil {
		return nil, err
	}

	if result.Error != "" {
		return nil, errorsmod.Wrapf(types.ErrNetwork, "contract call %s failed: %s", req.Path(), result.Error)
	}

	return result, nil
}

// Status queries the node status; used as the RPC health check.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	result := new(StatusResult)
	if err := c.call(ctx, "status", json.RawMessage(`[]`), result); err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) queryParams(req CallRequest) (json.RawMessage, error) {
	args := req.Args
	if args == nil {
		args = []byte("{}")
	}

	switch c.style {
	case QueryStyleCallFunction:
		return json.Marshal(map[string]string{
			"request_type": "call_function",
			"finality":     "final",
			"account_id":   req.Contract,
			"method_name":  req.Method,
			"args_base64":  base64.StdEncoding.EncodeToString(args),
		})
	default:
		return json.Marshal([]string{req.Path(), base58.Encode(args)})
	}
}

func (c *Client) call(ctx context.Context, method string, params json.RawMessage, result any) error {
	id := tmrpctypes.JSONRPCIntID(c.nextID.Add(1))

	body, err := json.Marshal(tmrpctypes.NewRPCRequest(id, method, params))
	if err != nil {
		return errorsmod.Wrapf(types.ErrNetwork, "failed to marshal %s request: %v", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errorsmod.Wrapf(types.ErrNetwork, "failed to create HTTP request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Oracle-Daemon/1.0")

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errorsmod.Wrapf(types.ErrNetwork, "%s request failed: %v", method, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return errorsmod.Wrapf(types.ErrNetwork, "failed to read response body: %v", err)
	}

	var rpcRes tmrpctypes.RPCResponse
	if err := json.Unmarshal(raw, &rpcRes); err != nil {
		// NEAR puts structured objects in error.data, which the tendermint
		// RPCError cannot hold.
		if rpcErr := gjson.GetBytes(raw, "error"); rpcErr.Exists() {
			return errorsmod.Wrapf(types.ErrNetwork, "%s returned error: %s", method, rpcErr.Raw)
		}
		if res.StatusCode != http.StatusOK {
			return errorsmod.Wrapf(types.ErrNetwork, "unexpected HTTP status: %s", res.Status)
		}
		return errorsmod.Wrapf(types.ErrNetwork, "malformed %s response: %v", method, err)
	}

	if rpcRes.Error != nil {
		return errorsmod.Wrapf(types.ErrNetwork, "%s returned error: %v", method, rpcRes.Error)
	}

	if res.StatusCode != http.StatusOK {
		return errorsmod.Wrapf(types.ErrNetwork, "unexpected HTTP status: %s", res.Status)
	}

	if rpcRes.ID != id {
		return errorsmod.Wrapf(types.ErrNetwork, "response id %v does not match request id %v", rpcRes.ID, id)
	}

	if len(rpcRes.Result) == 0 || gjson.ParseBytes(rpcRes.Result).Type == gjson.Null {
		return errorsmod.Wrapf(types.ErrNetwork, "%s response has no result", method)
	}

	if err := json.Unmarshal(rpcRes.Result, result); err != nil {
		return errorsmod.Wrapf(types.ErrNetwork, "malformed %s result: %v", method, err)
	}

	return nil
}
