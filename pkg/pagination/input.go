package pagination

import (
	"math"
	"strconv"

	"github.com/Bronek/clio/pkg/ledger"
	"github.com/Bronek/clio/pkg/rpc"
)

// Page size ceilings. They are also the defaults when no limit is given.
const (
	LimitJSON   uint32 = 256
	LimitBinary uint32 = 2048
)

// Input is a decoded ledger_data request. At most one of Marker and
// DiffMarker is set.
type Input struct {
	LedgerHash  *ledger.Key
	LedgerIndex *uint32 // nil selects the newest validated ledger

	Marker     *ledger.Key // resume after this key (full-state mode)
	DiffMarker *uint32     // ledger to diff next (diff mode)

	Limit      uint32
	Binary     bool
	OutOfOrder bool
	Type       ledger.EntryType
}

// Ceiling is the largest page size allowed for the output mode.
func (in Input) Ceiling() uint32 {
	if in.Binary {
		return LimitBinary
	}
	return LimitJSON
}

func invalidParams(message string) rpc.Status {
	return rpc.NewStatusMessage(rpc.CodeInvalidParams, message)
}

// DecodeInput validates and decodes ledger_data parameters.
func DecodeInput(params map[string]any) (Input, error) {
	in := Input{Limit: LimitJSON, Type: ledger.EntryTypeAny}

	if raw, ok := params["binary"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return Input{}, rpc.NewStatus(rpc.CodeInvalidParams)
		}
		in.Binary = b
		in.Limit = in.Ceiling()
	}

	if raw, ok := params["limit"]; ok {
		n, ok := rpc.Int64(raw)
		if !ok || n < 1 {
			return Input{}, rpc.NewStatus(rpc.CodeInvalidParams)
		}
		if n > math.MaxUint32 {
			n = math.MaxUint32
		}
		in.Limit = uint32(n)
	}

	if raw, ok := params["out_of_order"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return Input{}, rpc.NewStatus(rpc.CodeInvalidParams)
		}
		in.OutOfOrder = b
	}

	if raw, ok := params["marker"]; ok {
		if s, isString := raw.(string); isString {
			key, err := ledger.ParseKey(s)
			if err != nil {
				return Input{}, invalidParams("markerMalformed")
			}
			in.Marker = &key
		} else {
			n, ok := rpc.Int64(raw)
			if !ok || n < 0 || n > math.MaxUint32 {
				return Input{}, invalidParams("markerMalformed")
			}
			seq := uint32(n)
			in.DiffMarker = &seq
		}
	}

	if raw, ok := params["ledger_hash"]; ok {
		s, ok := raw.(string)
		if !ok {
			return Input{}, invalidParams("ledger_hashNotString")
		}
		hash, err := ledger.ParseKey(s)
		if err != nil {
			return Input{}, invalidParams("ledger_hashMalformed")
		}
		in.LedgerHash = &hash
	}

	if raw, ok := params["ledger_index"]; ok {
		seq, validated, err := decodeLedgerIndex(raw)
		if err != nil {
			return Input{}, err
		}
		if !validated {
			in.LedgerIndex = &seq
		}
	}

	if raw, ok := params["type"]; ok {
		name, ok := raw.(string)
		if !ok {
			return Input{}, invalidParams("Invalid field 'type', not string.")
		}
		t, ok := ledger.EntryTypeFromFilter(name)
		if !ok {
			return Input{}, invalidParams("Invalid field 'type'.")
		}
		in.Type = t
	}

	return in, nil
}

// decodeLedgerIndex accepts an integer, a numeric string or "validated".
func decodeLedgerIndex(raw any) (seq uint32, validated bool, err error) {
	malformed := rpc.NewStatusMessage(rpc.CodeLgrIdxMalformed, "ledgerIndexMalformed")

	if s, ok := raw.(string); ok {
		if s == "validated" {
			return 0, true, nil
		}
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, false, malformed
		}
		return uint32(n), false, nil
	}

	n, ok := rpc.Int64(raw)
	if !ok || n < 0 || n > math.MaxUint32 {
		return 0, false, malformed
	}
	return uint32(n), false, nil
}
