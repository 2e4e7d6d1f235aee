// Package rpctest provides an in-process NEAR JSON-RPC node for tests.
package rpctest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Call is a request the server received.
type Call struct {
	Method string
	Params gjson.Result
}

// Server answers "query" with the configured request document and
// "status" with a fixed node status.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	result      []byte
	rpcError    string
	contractErr string
	httpStatus  int
	calls       []Call
	block       chan struct{}
	release     func()
}

func NewServer() *Server {
	s := &Server{httpStatus: http.StatusOK}
	s.SetDocument(`{}`)
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// WrapDocument encodes a request document the way the oracle contract
// returns it: the document serialized as a JSON string literal, as bytes.
func WrapDocument(document string) []byte {
	outer, err := json.Marshal(document)
	if err != nil {
		panic(err)
	}
	return outer
}

// SetDocument serves document double-encoded, as the contract does.
func (s *Server) SetDocument(document string) {
	s.SetResultBytes(WrapDocument(document))
}

// SetResultBytes serves raw result bytes as-is.
func (s *Server) SetResultBytes(result []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.result = append([]byte(nil), result...)
	s.rpcError = ""
	s.contractErr = ""
	s.httpStatus = http.StatusOK
}

// SetRPCError makes every call fail with a JSON-RPC error object.
func (s *Server) SetRPCError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rpcError = message
}

// SetContractError makes query return result.error, as NEAR does when the
// view function panics.
func (s *Server) SetContractError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contractErr = message
}

func (s *Server) SetHTTPStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.httpStatus = code
}

// Block holds every request until the returned release func is called.
// Close releases a pending block.
func (s *Server) Block() (release func()) {
	ch := make(chan struct{})

	var once sync.Once
	release = func() {
		once.Do(func() {
			s.mu.Lock()
			if s.block == ch {
				s.block = nil
				s.release = nil
			}
			s.mu.Unlock()
			close(ch)
		})
	}

	s.mu.Lock()
	s.block = ch
	s.release = release
	s.mu.Unlock()

	return release
}

func (s *Server) Close() {
	s.mu.Lock()
	release := s.release
	s.mu.Unlock()

	if release != nil {
		release()
	}
	s.Server.Close()
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Call(nil), s.calls...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(body) {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	req := gjson.ParseBytes(body)
	method := req.Get("method").String()

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Params: req.Get("params")})
	block := s.block
	result := s.result
	rpcError := s.rpcError
	contractErr := s.contractErr
	httpStatus := s.httpStatus
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}

	if httpStatus != http.StatusOK {
		w.WriteHeader(httpStatus)
		_, _ = w.Write([]byte("upstream unavailable"))
		return
	}

	res := `{"jsonrpc":"2.0"}`
	res, _ = sjson.SetRaw(res, "id", req.Get("id").Raw)

	switch {
	case rpcError != "":
		res, _ = sjson.Set(res, "error.code", -32000)
		res, _ = sjson.Set(res, "error.message", "Server error")
		res, _ = sjson.Set(res, "error.data", rpcError)
	case method == "status":
		res, _ = sjson.Set(res, "result.chain_id", "testnet")
		res, _ = sjson.Set(res, "result.sync_info.latest_block_height", 1019)
		res, _ = sjson.Set(res, "result.sync_info.syncing", false)
	case method == "query" && contractErr != "":
		res, _ = sjson.Set(res, "result.error", contractErr)
		res, _ = sjson.Set(res, "result.logs", []string{})
		res, _ = sjson.Set(res, "result.block_height", 1019)
	case method == "query":
		values := make([]int, len(result))
		for i, b := range result {
			values[i] = int(b)
		}
		res, _ = sjson.Set(res, "result.result", values)
		res, _ = sjson.Set(res, "result.logs", []string{})
		res, _ = sjson.Set(res, "result.block_height", 1019)
		res, _ = sjson.Set(res, "result.block_hash", "EjwKtPvhYb6ZUxoDaa8P8gUoyoqjNwyTWV6F1Y3WsGzm")
	default:
		res, _ = sjson.Set(res, "error.code", -32601)
		res, _ = sjson.Set(res, "error.message", "Method not found")
		res, _ = sjson.Set(res, "error.data", method)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(res))
}
