package web

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

const passwordPrefix = "Password "

// AdminVerifier decides whether a request carries admin rights.
type AdminVerifier interface {
	IsAdmin(r *http.Request, clientIP string) bool
}

// IPAdminVerifier grants admin rights to loopback clients only.
type IPAdminVerifier struct{}

func (IPAdminVerifier) IsAdmin(_ *http.Request, clientIP string) bool {
	ip := net.ParseIP(clientIP)
	return ip != nil && ip.IsLoopback()
}

// PasswordAdminVerifier grants admin rights to requests carrying
// "Authorization: Password <hex sha256 of the password>".
type PasswordAdminVerifier struct {
	hash string
}

// NewPasswordAdminVerifier creates a verifier accepting the sha256 of password.
func NewPasswordAdminVerifier(password string) PasswordAdminVerifier {
	sum := sha256.Sum256([]byte(password))
	return PasswordAdminVerifier{hash: strings.ToUpper(hex.EncodeToString(sum[:]))}
}

func (v PasswordAdminVerifier) IsAdmin(r *http.Request, _ string) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, passwordPrefix) {
		return false
	}
	given := strings.ToUpper(strings.TrimPrefix(header, passwordPrefix))
	return subtle.ConstantTimeCompare([]byte(given), []byte(v.hash)) == 1
}

// NewAdminVerifier picks the password strategy when a password is
// configured and the loopback strategy otherwise.
func NewAdminVerifier(password string) AdminVerifier {
	if password == "" {
		return IPAdminVerifier{}
	}
	return NewPasswordAdminVerifier(password)
}
