package upstream

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUpstreamError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *UpstreamError
		want string
	}{
		{
			name: "without wrapped error",
			err:  &UpstreamError{StatusCode: 503, ErrorClass: ErrorClassOverloaded, Message: "503 Service Unavailable"},
			want: "upstream overloaded error (status 503): 503 Service Unavailable",
		},
		{
			name: "with wrapped error",
			err:  &UpstreamError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: errors.New("connection refused")},
			want: "upstream network error (status 0): request failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpstreamError_Unwrap(t *testing.T) {
	err := fmt.Errorf("forward: %w", &UpstreamError{ErrorClass: ErrorClassClient, Err: ErrMalformedResponse})

	if !errors.Is(err, ErrMalformedResponse) {
		t.Error("errors.Is should find the wrapped sentinel")
	}

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatal("errors.As should find the UpstreamError")
	}
	if upstreamErr.ErrorClass != ErrorClassClient {
		t.Errorf("ErrorClass = %s, want client", upstreamErr.ErrorClass)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassOverloaded, true},
		{ErrorClassNetwork, true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.want {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{400, ErrorClassClient},
		{403, ErrorClassClient},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{503, ErrorClassOverloaded},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	if got := classify(errors.New("dial tcp: refused")); got != ErrorClassNetwork {
		t.Errorf("plain error classified as %q, want network", got)
	}
	wrapped := fmt.Errorf("%w: %w", ErrRetryExhausted, &UpstreamError{ErrorClass: ErrorClassServer})
	if got := classify(wrapped); got != ErrorClassServer {
		t.Errorf("wrapped error classified as %q, want server", got)
	}
	if !strings.Contains(wrapped.Error(), "retry attempts exhausted") {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
}
