package pagination

import (
	"github.com/Bronek/clio/pkg/ledger"
)

// Output is one page of ledger_data. Marker and DiffMarker are never both
// set.
type Output struct {
	LedgerHash  string
	LedgerIndex uint32
	Validated   bool
	Header      map[string]any // first page only
	States      []map[string]any
	Marker      *ledger.Key
	DiffMarker  *uint32
	CacheFull   *bool // out_of_order only
}

// ToJSON renders the page. Both marker kinds share the "marker" field;
// a string marks a key and a number marks a ledger sequence.
func (o Output) ToJSON() map[string]any {
	states := o.States
	if states == nil {
		states = []map[string]any{}
	}

	out := map[string]any{
		"ledger_hash":  o.LedgerHash,
		"ledger_index": o.LedgerIndex,
		"validated":    o.Validated,
		"state":        states,
	}
	if o.Header != nil {
		out["ledger"] = o.Header
	}
	if o.CacheFull != nil {
		out["cache_full"] = *o.CacheFull
	}

	switch {
	case o.DiffMarker != nil:
		out["marker"] = *o.DiffMarker
	case o.Marker != nil:
		out["marker"] = o.Marker.String()
	}
	return out
}
