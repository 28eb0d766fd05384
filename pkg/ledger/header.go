package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// HeaderSize is the length of a serialized header, excluding its hash.
const HeaderSize = 4 + 8 + 3*KeySize + 4 + 4 + 1 + 1

// Header describes a validated ledger.
type Header struct {
	Sequence            uint32 `msgpack:"seq"`
	Hash                Key    `msgpack:"hash"`
	ParentHash          Key    `msgpack:"parent_hash"`
	TxHash              Key    `msgpack:"tx_hash"`
	AccountHash         Key    `msgpack:"account_hash"`
	TotalCoins          uint64 `msgpack:"total_coins"`
	CloseTime           uint32 `msgpack:"close_time"`
	ParentCloseTime     uint32 `msgpack:"parent_close_time"`
	CloseTimeResolution uint8  `msgpack:"close_time_resolution"`
	CloseFlags          uint8  `msgpack:"close_flags"`
}

// Serialize returns the fixed-width binary form of the header.
func (h Header) Serialize() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.BigEndian.AppendUint32(buf, h.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, h.TotalCoins)
	buf = append(buf, h.ParentHash[:]...)
	buf = append(buf, h.TxHash[:]...)
	buf = append(buf, h.AccountHash[:]...)
	buf = binary.BigEndian.AppendUint32(buf, h.ParentCloseTime)
	buf = binary.BigEndian.AppendUint32(buf, h.CloseTime)
	buf = append(buf, h.CloseTimeResolution, h.CloseFlags)
	return buf
}

// DeserializeHeader parses the output of Serialize. The hash is not part of
// the binary form and has to be supplied by the caller.
func DeserializeHeader(b []byte, hash Key) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, errors.New("malformed ledger header")
	}
	h := Header{Hash: hash}
	h.Sequence = binary.BigEndian.Uint32(b[0:4])
	h.TotalCoins = binary.BigEndian.Uint64(b[4:12])
	off := 12
	copy(h.ParentHash[:], b[off:off+KeySize])
	off += KeySize
	copy(h.TxHash[:], b[off:off+KeySize])
	off += KeySize
	copy(h.AccountHash[:], b[off:off+KeySize])
	off += KeySize
	h.ParentCloseTime = binary.BigEndian.Uint32(b[off : off+4])
	h.CloseTime = binary.BigEndian.Uint32(b[off+4 : off+8])
	h.CloseTimeResolution = b[off+8]
	h.CloseFlags = b[off+9]
	return h, nil
}

// ToJSON renders the header for a response. API version 1 reports
// ledger_index as a string, later versions as a number.
func (h Header) ToJSON(binaryMode bool, apiVersion uint32) map[string]any {
	if binaryMode {
		return map[string]any{
			"ledger_data": strings.ToUpper(hex.EncodeToString(h.Serialize())),
			"closed":      true,
		}
	}

	out := map[string]any{
		"account_hash":          h.AccountHash.String(),
		"close_flags":           h.CloseFlags,
		"close_time":            h.CloseTime,
		"close_time_human":      NetClockToTime(h.CloseTime).Format("2006-Jan-02 15:04:05.000000000 UTC"),
		"close_time_resolution": h.CloseTimeResolution,
		"closed":                true,
		"hash":                  h.Hash.String(),
		"ledger_hash":           h.Hash.String(),
		"parent_close_time":     h.ParentCloseTime,
		"parent_hash":           h.ParentHash.String(),
		"total_coins":           strconv.FormatUint(h.TotalCoins, 10),
		"transaction_hash":      h.TxHash.String(),
	}
	if apiVersion < 2 {
		out["ledger_index"] = strconv.FormatUint(uint64(h.Sequence), 10)
	} else {
		out["ledger_index"] = h.Sequence
	}
	return out
}
