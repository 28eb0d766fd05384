package web

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIPAdminVerifier(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.0.0.1", false},
		{"not-an-ip", false},
	}

	req := httptest.NewRequest("POST", "/", nil)
	for _, tt := range tests {
		if got := (IPAdminVerifier{}).IsAdmin(req, tt.ip); got != tt.want {
			t.Errorf("IsAdmin(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestPasswordAdminVerifier(t *testing.T) {
	v := NewPasswordAdminVerifier("xrp")
	wrong := NewPasswordAdminVerifier("xrp2").hash

	if len(v.hash) != 64 {
		t.Fatalf("hash length = %d, want 64", len(v.hash))
	}

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"upper case hash", "Password " + v.hash, true},
		{"lower case hash", "Password " + strings.ToLower(v.hash), true},
		{"wrong hash", "Password " + wrong, false},
		{"missing prefix", v.hash, false},
		{"bearer", "Bearer " + v.hash, false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := v.IsAdmin(req, "127.0.0.1"); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewAdminVerifier(t *testing.T) {
	if _, ok := NewAdminVerifier("").(IPAdminVerifier); !ok {
		t.Error("Expected loopback strategy without a password")
	}
	if _, ok := NewAdminVerifier("pw").(PasswordAdminVerifier); !ok {
		t.Error("Expected password strategy with a password")
	}
}
