package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/near-oracle/oracle/rpc/rpctest"
	"github.com/GPTx-global/near-oracle/oracle/types"
)

type ClientTestSuite struct {
	suite.Suite
	server *rpctest.Server
	client *Client
	ctx    context.Context
	cancel context.CancelFunc
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (suite *ClientTestSuite) SetupTest() {
	suite.server = rpctest.NewServer()

	var err error
	suite.client, err = New(suite.server.URL)
	suite.Require().NoError(err)

	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 10*time.Second)
}

func (suite *ClientTestSuite) TearDownTest() {
	suite.cancel()
	suite.server.Close()
}

func (suite *ClientTestSuite) oracleRequest() CallRequest {
	return CallRequest{Contract: "v0.oracle.testnet", Method: "get_all_requests", Args: []byte("{}")}
}

func (suite *ClientTestSuite) TestCallRequest_PathAndArgs() {
	req := suite.oracleRequest()

	suite.Equal("call/v0.oracle.testnet/get_all_requests", req.Path())
	suite.Equal("AQ4", req.EncodedArgs())
}

func (suite *ClientTestSuite) TestNew_InvalidEndpoint() {
	_, err := New("ftp://example.com")
	suite.Error(err)

	_, err = New("://nope")
	suite.Error(err)

	_, err = New("http://localhost:3030", WithQueryStyle("view"))
	suite.Error(err)
	suite.Contains(err.Error(), "unknown query style")
}

func (suite *ClientTestSuite) TestCall_PathStyle() {
	suite.server.SetDocument(`{"0":{"request_spec":"foo"}}`)

	res, err := suite.client.Call(suite.ctx, suite.oracleRequest())
	suite.Require().NoError(err)

	suite.Equal(rpctest.WrapDocument(`{"0":{"request_spec":"foo"}}`), []byte(res.Result))
	suite.Equal(uint64(1019), res.BlockHeight)
	suite.Empty(res.Error)

	calls := suite.server.Calls()
	suite.Require().Len(calls, 1)
	suite.Equal("query", calls[0].Method)
	suite.True(calls[0].Params.IsArray())
	suite.Equal("call/v0.oracle.testnet/get_all_requests", calls[0].Params.Get("0").String())
	suite.Equal("AQ4", calls[0].Params.Get("1").String())
}

func (suite *ClientTestSuite) TestCall_CallFunctionStyle() {
	client, err := New(suite.server.URL, WithQueryStyle(QueryStyleCallFunction))
	suite.Require().NoError(err)

	_, err = client.Call(suite.ctx, suite.oracleRequest())
	suite.Require().NoError(err)

	calls := suite.server.Calls()
	suite.Require().Len(calls, 1)
	params := calls[0].Params
	suite.True(params.IsObject())
	suite.Equal("call_function", params.Get("request_type").String())
	suite.Equal("final", params.Get("finality").String())
	suite.Equal("v0.oracle.testnet", params.Get("account_id").String())
	suite.Equal("get_all_requests", params.Get("method_name").String())
	suite.Equal("e30=", params.Get("args_base64").String())
}

func (suite *ClientTestSuite) TestCall_NilArgsDefaultToEmptyObject() {
	req := suite.oracleRequest()
	req.Args = nil

	_, err := suite.client.Call(suite.ctx, req)
	suite.Require().NoError(err)
	suite.Equal("AQ4", suite.server.Calls()[0].Params.Get("1").String())
}

func (suite *ClientTestSuite) TestCall_RPCError() {
	suite.server.SetRPCError("account v0.oracle.testnet does not exist")

	_, err := suite.client.Call(suite.ctx, suite.oracleRequest())
	suite.Error(err)
	suite.True(errors.Is(err, types.ErrNetwork))
	suite.Contains(err.Error(), "does not exist")
}

func (suite *ClientTestSuite) TestCall_ContractError() {
	suite.server.SetContractError("wasm execution failed with error: MethodNotFound")

	_, err := suite.client.Call(suite.ctx, suite.oracleRequest())
	suite.Error(err)
	suite.True(errors.Is(err, types.ErrNetwork))
	suite.Contains(err.Error(), "MethodNotFound")
}

func (suite *ClientTestSuite) TestCall_HTTPStatus() {
	suite.server.SetHTTPStatus(http.StatusBadGateway)

	_, err := suite.client.Call(suite.ctx, suite.oracleRequest())
	suite.Error(err)
	suite.True(errors.Is(err, types.ErrNetwork))
	suite.Contains(err.Error(), "502")
}

func (suite *ClientTestSuite) TestCall_ConnectionRefused() {
	addr := suite.server.URL
	suite.server.Close()

	client, err := New(addr)
	suite.Require().NoError(err)

	_, err = client.Call(suite.ctx, suite.oracleRequest())
	suite.Error(err)
	suite.True(errors.Is(err, types.ErrNetwork))
}

func (suite *ClientTestSuite) TestCall_ContextCancelled() {
	release := suite.server.Block()
	defer release()

	ctx, cancel := context.WithTimeout(suite.ctx, 50*time.Millisecond)
	defer cancel()

	_, err := suite.client.Call(ctx, suite.oracleRequest())
	suite.Error(err)
	suite.True(errors.Is(err, types.ErrNetwork))
}

func (suite *ClientTestSuite) TestCall_StructuredErrorData() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"name":"HANDLER_ERROR","code":-32000,"message":"Server error","data":{"block":"unknown"}}}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	suite.Require().NoError(err)

	_, err = client.Call(suite.ctx, suite.oracleRequest())
	suite.Error(err)
	suite.True(errors.Is(err, types.ErrNetwork))
	suite.Contains(err.Error(), "HANDLER_ERROR")
}

func (suite *ClientTestSuite) TestCall_IDMismatch() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":999,"result":{"result":[],"logs":[]}}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	suite.Require().NoError(err)

	_, err = client.Call(suite.ctx, suite.oracleRequest())
	suite.Error(err)
	suite.Contains(err.Error(), "does not match")
}

func (suite *ClientTestSuite) TestCall_NullResult() {
	for _, body := range []string{
		`{"jsonrpc":"2.0","id":1,"result":null}`,
		`{"jsonrpc":"2.0","id":1}`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		client, err := New(srv.URL)
		suite.Require().NoError(err)

		res, err := client.Call(suite.ctx, suite.oracleRequest())
		srv.Close()

		suite.Nil(res, body)
		suite.Error(err, body)
		suite.True(errors.Is(err, types.ErrNetwork), body)
		suite.Contains(err.Error(), "has no result", body)
	}
}

func (suite *ClientTestSuite) TestStatus() {
	status, err := suite.client.Status(suite.ctx)
	suite.Require().NoError(err)

	suite.Equal("testnet", status.ChainID)
	suite.Equal(uint64(1019), status.SyncInfo.LatestBlockHeight)
	suite.False(status.SyncInfo.Syncing)
	suite.Equal("status", suite.server.Calls()[0].Method)
}

func (suite *ClientTestSuite) TestResultBytes_Unmarshal() {
	testCases := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{"bytes", `[123,125]`, []byte("{}"), false},
		{"empty", `[]`, []byte{}, false},
		{"null", `null`, nil, false},
		{"out of range", `[256]`, nil, true},
		{"negative", `[-1]`, nil, true},
		{"fraction", `[1.5]`, nil, true},
		{"string element", `["a"]`, nil, true},
		{"not an array", `"e30="`, nil, true},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			var b ResultBytes
			err := json.Unmarshal([]byte(tc.input), &b)
			if tc.wantErr {
				suite.Error(err)
				return
			}
			suite.NoError(err)
			suite.Equal(tc.want, []byte(b))
		})
	}
}
