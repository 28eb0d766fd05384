package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockRippledResponse defines the behavior for one mock JSON-RPC method.
type MockRippledResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockRippled is a configurable mock upstream node speaking JSON-RPC.
type MockRippled struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[string][]MockRippledResponse

	requestCount int
	lastRequest  map[string]any
	lastHeader   http.Header
}

// NewMockRippled creates a new mock node. Unconfigured methods answer with
// a successful empty result.
func NewMockRippled() *MockRippled {
	mock := &MockRippled{
		responses: make(map[string][]MockRippledResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request map[string]any
		_ = json.NewDecoder(r.Body).Decode(&request)
		method, _ := request["method"].(string)

		mock.mu.Lock()
		mock.requestCount++
		mock.lastRequest = request
		mock.lastHeader = r.Header.Clone()

		resp, ok := mock.next(method)
		mock.mu.Unlock()

		if !ok {
			resp = NewResultResponse(`{"status":"success"}`)
		}
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// next pops the queued response for method, keeping the last one sticky.
func (m *MockRippled) next(method string) (MockRippledResponse, bool) {
	queue := m.responses[method]
	if len(queue) == 0 {
		return MockRippledResponse{}, false
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.responses[method] = queue[1:]
	}
	return resp, true
}

// URL returns the mock server URL.
func (m *MockRippled) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRippled) Close() {
	m.server.Close()
}

// SetResponses queues responses for method. Once the queue is down to one
// response, that response is repeated.
func (m *MockRippled) SetResponses(method string, responses ...MockRippledResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = responses
}

// RequestCount returns the number of requests made to the server.
func (m *MockRippled) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastRequest returns the last decoded JSON-RPC request body.
func (m *MockRippled) LastRequest() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequest
}

// LastHeader returns the headers of the last request.
func (m *MockRippled) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// NewResultResponse creates a 200 response wrapping result.
func NewResultResponse(result string) MockRippledResponse {
	return MockRippledResponse{
		StatusCode: http.StatusOK,
		Body:       `{"result":` + result + `}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockRippledResponse {
	return MockRippledResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewOverloadedResponse creates a 503 response of a node shedding load.
func NewOverloadedResponse() MockRippledResponse {
	return MockRippledResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"error": "Server is overloaded"}`,
	}
}

// NewForbiddenResponse creates a 403 response.
func NewForbiddenResponse() MockRippledResponse {
	return MockRippledResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"error": "Forbidden"}`,
	}
}
