package pebble

import (
	"encoding/binary"
	"fmt"

	"github.com/Bronek/clio/pkg/ledger"
)

// key prefixes
const (
	codeRange  byte = 1 // -> min seq | max seq
	codeHeader byte = 2 // seq -> msgpack header
	codeHash   byte = 3 // hash -> seq
	codeObject byte = 4 // key | ^seq -> blob, empty blob for a deletion
	codeDiff   byte = 5 // seq | key -> blob written by that ledger
)

const (
	seqLen       = 4
	objectKeyLen = 1 + ledger.KeySize + seqLen
)

func rangeKey() []byte {
	return []byte{codeRange}
}

func headerKey(seq uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte{codeHeader}, seq)
}

func hashKey(hash ledger.Key) []byte {
	return append([]byte{codeHash}, hash[:]...)
}

// objectKey encodes a versioned object key. The sequence is stored as its
// ones complement so a forward seek from (key, seq) lands on the newest
// version at or below seq.
func objectKey(key ledger.Key, seq uint32) []byte {
	b := make([]byte, 0, objectKeyLen)
	b = append(b, codeObject)
	b = append(b, key[:]...)
	return binary.BigEndian.AppendUint32(b, ^seq)
}

// objectPrefix is the lowest encoded key for any version of key.
func objectPrefix(key ledger.Key) []byte {
	return append([]byte{codeObject}, key[:]...)
}

func decodeObjectKey(b []byte) (ledger.Key, uint32, error) {
	if len(b) != objectKeyLen || b[0] != codeObject {
		return ledger.Key{}, 0, fmt.Errorf("invalid object key length %d", len(b))
	}
	key, _ := ledger.KeyFromBytes(b[1 : 1+ledger.KeySize])
	return key, ^binary.BigEndian.Uint32(b[1+ledger.KeySize:]), nil
}

func diffPrefix(seq uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte{codeDiff}, seq)
}

func diffKey(seq uint32, key ledger.Key) []byte {
	return append(diffPrefix(seq), key[:]...)
}

func encodeSeq(seq uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, seq)
}

func decodeSeq(b []byte) (uint32, error) {
	if len(b) != seqLen {
		return 0, fmt.Errorf("invalid sequence value length %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func encodeRange(r ledger.Range) []byte {
	b := binary.BigEndian.AppendUint32(nil, r.MinSequence)
	return binary.BigEndian.AppendUint32(b, r.MaxSequence)
}

func decodeRange(b []byte) (ledger.Range, error) {
	if len(b) != 2*seqLen {
		return ledger.Range{}, fmt.Errorf("invalid range value length %d", len(b))
	}
	return ledger.Range{
		MinSequence: binary.BigEndian.Uint32(b),
		MaxSequence: binary.BigEndian.Uint32(b[seqLen:]),
	}, nil
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
