package ledger

import (
	"sort"
	"time"
)

// Range is the span of validated ledgers available in the backend.
type Range struct {
	MinSequence uint32
	MaxSequence uint32
}

// Contains reports whether seq lies in [MinSequence, MaxSequence].
func (r Range) Contains(seq uint32) bool {
	return seq >= r.MinSequence && seq <= r.MaxSequence
}

// Object is a single ledger state entry at some sequence. An empty Blob
// denotes a deleted entry when it comes from a diff.
type Object struct {
	Key  Key
	Blob []byte
}

// Fees are the fee and reserve settings in effect at a ledger, in drops.
type Fees struct {
	BaseFee          uint64
	ReserveBase      uint64
	ReserveIncrement uint64
}

// EntryType is the typed discriminator stored in the first two bytes of
// every object blob.
type EntryType uint16

const (
	EntryTypeAny            EntryType = 0x0000
	EntryTypeAccountRoot    EntryType = 0x0061
	EntryTypeDID            EntryType = 0x0049
	EntryTypeAmendments     EntryType = 0x0066
	EntryTypeCheck          EntryType = 0x0043
	EntryTypeDepositPreauth EntryType = 0x0070
	EntryTypeDirectoryNode  EntryType = 0x0064
	EntryTypeEscrow         EntryType = 0x0075
	EntryTypeFeeSettings    EntryType = 0x0073
	EntryTypeLedgerHashes   EntryType = 0x0068
	EntryTypeOffer          EntryType = 0x006f
	EntryTypePayChannel     EntryType = 0x0078
	EntryTypeSignerList     EntryType = 0x0053
	EntryTypeRippleState    EntryType = 0x0072
	EntryTypeTicket         EntryType = 0x0054
	EntryTypeNFTokenOffer   EntryType = 0x0037
	EntryTypeNFTokenPage    EntryType = 0x0050
	EntryTypeAMM            EntryType = 0x0079
)

var entryTypeNames = map[EntryType]string{
	EntryTypeAccountRoot:    "AccountRoot",
	EntryTypeDID:            "DID",
	EntryTypeAmendments:     "Amendments",
	EntryTypeCheck:          "Check",
	EntryTypeDepositPreauth: "DepositPreauth",
	EntryTypeDirectoryNode:  "DirectoryNode",
	EntryTypeEscrow:         "Escrow",
	EntryTypeFeeSettings:    "FeeSettings",
	EntryTypeLedgerHashes:   "LedgerHashes",
	EntryTypeOffer:          "Offer",
	EntryTypePayChannel:     "PayChannel",
	EntryTypeSignerList:     "SignerList",
	EntryTypeRippleState:    "RippleState",
	EntryTypeTicket:         "Ticket",
	EntryTypeNFTokenOffer:   "NFTokenOffer",
	EntryTypeNFTokenPage:    "NFTokenPage",
	EntryTypeAMM:            "AMM",
}

// String returns the canonical entry type name.
func (t EntryType) String() string {
	if name, ok := entryTypeNames[t]; ok {
		return name
	}
	if t == EntryTypeAny {
		return "Any"
	}
	return "Unknown"
}

// filterTypes maps the request-level `type` filter names to entry types.
// Built once, never mutated.
var filterTypes = map[string]EntryType{
	"account":         EntryTypeAccountRoot,
	"did":             EntryTypeDID,
	"amendments":      EntryTypeAmendments,
	"check":           EntryTypeCheck,
	"deposit_preauth": EntryTypeDepositPreauth,
	"directory":       EntryTypeDirectoryNode,
	"escrow":          EntryTypeEscrow,
	"fee":             EntryTypeFeeSettings,
	"hashes":          EntryTypeLedgerHashes,
	"offer":           EntryTypeOffer,
	"payment_channel": EntryTypePayChannel,
	"signer_list":     EntryTypeSignerList,
	"state":           EntryTypeRippleState,
	"ticket":          EntryTypeTicket,
	"nft_offer":       EntryTypeNFTokenOffer,
	"nft_page":        EntryTypeNFTokenPage,
	"amm":             EntryTypeAMM,
}

// EntryTypeFromFilter resolves a `type` filter name.
func EntryTypeFromFilter(name string) (EntryType, bool) {
	t, ok := filterTypes[name]
	return t, ok
}

// FilterNames returns the accepted `type` filter names in sorted order.
func FilterNames() []string {
	names := make([]string, 0, len(filterTypes))
	for name := range filterTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FeeSettingsKey is the fixed key of the singleton FeeSettings object.
var FeeSettingsKey = mustParseKey("4BC50C9B0D8515D3EAAE1E74B29A95804346C491EE1A95BF25E4AAB854A6A651")

func mustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// RippleEpoch is the offset of ledger close times from the unix epoch.
const RippleEpoch = 946684800

// NetClockToTime converts a ledger close time (seconds since the ripple
// epoch) into a time.Time.
func NetClockToTime(closeTime uint32) time.Time {
	return time.Unix(int64(closeTime)+RippleEpoch, 0).UTC()
}

// TimeToNetClock converts t into seconds since the ripple epoch.
func TimeToNetClock(t time.Time) uint32 {
	secs := t.Unix() - RippleEpoch
	if secs < 0 {
		return 0
	}
	return uint32(secs)
}
