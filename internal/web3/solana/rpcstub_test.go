package solana

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcHandler func(params []json.RawMessage) any

// rpcStub answers JSON-RPC calls from canned handlers and counts calls per method.
type rpcStub struct {
	t        *testing.T
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    map[string]int
	params   map[string][]json.RawMessage
}

func newRPCStub(t *testing.T, handlers map[string]rpcHandler) (*rpcStub, *httptest.Server) {
	t.Helper()
	stub := &rpcStub{t: t, handlers: handlers, calls: map[string]int{}, params: map[string][]json.RawMessage{}}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return stub, srv
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.t.Errorf("decode rpc request: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Method]++
	s.params[req.Method] = req.Params
	handler := s.handlers[req.Method]
	s.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if handler == nil {
		resp["error"] = map[string]any{"code": -32601, "message": "method not found: " + req.Method}
	} else {
		resp["result"] = handler(req.Params)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *rpcStub) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *rpcStub) lastParams(method string) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[method]
}

func withContext(value any) map[string]any {
	return map[string]any{"context": map[string]any{"slot": 42}, "value": value}
}

func statusValue(status string, err any) map[string]any {
	return map[string]any{"slot": 42, "confirmations": nil, "err": err, "confirmationStatus": status}
}
