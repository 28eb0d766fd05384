// Package ledger holds the ledger data model shared by the backend, the
// pagination engine and the RPC handlers: 256-bit keys, ledger ranges and
// headers, ledger objects and the entry type table.
package ledger

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
)

// KeySize is the size of a ledger key in bytes.
const KeySize = 32

// ErrMalformedKey is returned when a hex string is not a 256-bit key.
var ErrMalformedKey = errors.New("malformed ledger key")

// Key is a 256-bit ledger object identifier.
type Key [KeySize]byte

// ParseKey decodes a 64 character hex string (any case) into a Key.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != 2*KeySize {
		return k, ErrMalformedKey
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, ErrMalformedKey
	}
	return k, nil
}

// KeyFromBytes copies b into a Key. b must be exactly KeySize bytes long.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, ErrMalformedKey
	}
	copy(k[:], b)
	return k, nil
}

// String returns the upper-case hex form used on the wire.
func (k Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// IsZero reports whether every byte of the key is zero.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Compare orders keys as big-endian 256-bit integers.
func (k Key) Compare(o Key) int {
	return bytes.Compare(k[:], o[:])
}

// Next returns k+1 and false when k is the maximum key.
func (k Key) Next() (Key, bool) {
	n := k
	for i := KeySize - 1; i >= 0; i-- {
		n[i]++
		if n[i] != 0 {
			return n, true
		}
	}
	return Key{}, false
}

// Prev returns k-1 and false when k is the zero key.
func (k Key) Prev() (Key, bool) {
	p := k
	for i := KeySize - 1; i >= 0; i-- {
		p[i]--
		if p[i] != 0xFF {
			return p, true
		}
	}
	return Key{}, false
}
