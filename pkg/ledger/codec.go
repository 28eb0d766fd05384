package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformedBlob is returned when an object blob cannot be decoded.
var ErrMalformedBlob = errors.New("malformed ledger object blob")

const typePrefixLen = 2

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// canonical encoding keeps blobs byte-identical across writers
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{MaxNestedLevels: 32}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Entry is a decoded ledger object.
type Entry struct {
	Key    Key
	Type   EntryType
	Fields map[string]any
}

// EncodeEntry produces the stored blob for an entry: the big-endian type
// discriminator followed by the CBOR encoded fields.
func EncodeEntry(t EntryType, fields map[string]any) ([]byte, error) {
	payload, err := encMode.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s fields: %w", t, err)
	}
	blob := make([]byte, typePrefixLen, typePrefixLen+len(payload))
	binary.BigEndian.PutUint16(blob, uint16(t))
	return append(blob, payload...), nil
}

// BlobType reads the discriminator without decoding the payload.
func BlobType(blob []byte) (EntryType, error) {
	if len(blob) < typePrefixLen {
		return 0, ErrMalformedBlob
	}
	return EntryType(binary.BigEndian.Uint16(blob)), nil
}

// DecodeEntry decodes blob stored under key. It never retains blob.
func DecodeEntry(key Key, blob []byte) (Entry, error) {
	t, err := BlobType(blob)
	if err != nil {
		return Entry{}, err
	}

	fields := make(map[string]any)
	if len(blob) > typePrefixLen {
		if err := decMode.Unmarshal(blob[typePrefixLen:], &fields); err != nil {
			return Entry{}, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
		}
	}
	for k, v := range fields {
		fields[k] = normalize(v)
	}

	return Entry{Key: key, Type: t, Fields: fields}, nil
}

// ToJSON renders the entry in its structured form.
func (e Entry) ToJSON() map[string]any {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["LedgerEntryType"] = e.Type.String()
	out["index"] = e.Key.String()
	return out
}

// ToBinaryJSON renders a raw entry as hex data plus its index.
func ToBinaryJSON(key Key, blob []byte) map[string]any {
	return map[string]any{
		"data":  strings.ToUpper(fmt.Sprintf("%x", blob)),
		"index": key.String(),
	}
}

// normalize converts nested CBOR maps, decoded with interface keys, into
// string-keyed maps so they can be rendered as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	default:
		return v
	}
}

// FeesFromBlob extracts fee settings from a FeeSettings object blob.
func FeesFromBlob(blob []byte) (Fees, error) {
	entry, err := DecodeEntry(FeeSettingsKey, blob)
	if err != nil {
		return Fees{}, err
	}
	if entry.Type != EntryTypeFeeSettings {
		return Fees{}, fmt.Errorf("%w: expected FeeSettings, got %s", ErrMalformedBlob, entry.Type)
	}

	var fees Fees
	var ok bool
	if fees.BaseFee, ok = toUint64(entry.Fields["BaseFee"]); !ok {
		return Fees{}, fmt.Errorf("%w: BaseFee", ErrMalformedBlob)
	}
	if fees.ReserveBase, ok = toUint64(entry.Fields["ReserveBase"]); !ok {
		return Fees{}, fmt.Errorf("%w: ReserveBase", ErrMalformedBlob)
	}
	if fees.ReserveIncrement, ok = toUint64(entry.Fields["ReserveIncrement"]); !ok {
		return Fees{}, fmt.Errorf("%w: ReserveIncrement", ErrMalformedBlob)
	}
	return fees, nil
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}
