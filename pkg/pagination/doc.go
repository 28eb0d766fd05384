// Package pagination implements the ledger_data paging protocol over a
// ledger store.
//
// A request walks ledger state in one of two mutually exclusive modes:
//
//   - full-state mode pages through every live object at a ledger in key
//     order, resuming after the key given as a string marker;
//   - diff mode (out_of_order with an integer marker) walks ledgers
//     backwards from the marker sequence, returning objects deleted by
//     that ledger which still exist at the requested ledger.
//
// An out_of_order full-state walk ends by handing out the newest ledger
// sequence as an integer marker, which switches the client to diff mode.
//
// Example usage:
//
//	in, err := pagination.DecodeInput(params)
//	if err != nil {
//		return nil, err
//	}
//	out, err := pagination.NewEngine(store, logger).Process(ctx, in)
//	if err != nil {
//		return nil, err
//	}
//	return out.ToJSON(), nil
//
// Validation happens in DecodeInput and at the top of Process, before any
// store access. Store failures are returned as they are; the engine never
// retries.
package pagination
