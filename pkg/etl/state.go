// Package etl is the ingestion surface of the gateway: it writes ledgers
// into the store, keeps the hot cache and subscribers current, and tracks
// how fresh the served data is.
package etl

import (
	"sync/atomic"
	"time"

	"github.com/Bronek/clio/pkg/ledger"
)

// State tracks the newest published ledger.
type State struct {
	lastSeq       atomic.Uint32
	lastCloseTime atomic.Uint32 // ripple epoch seconds
	lastPublish   atomic.Int64  // unix seconds
	published     atomic.Uint64

	now func() time.Time
}

// NewState creates a state with nothing published.
func NewState() *State {
	return &State{now: time.Now}
}

// Update records header as the newest published ledger.
func (s *State) Update(header ledger.Header) {
	s.lastSeq.Store(header.Sequence)
	s.lastCloseTime.Store(header.CloseTime)
	s.lastPublish.Store(s.now().Unix())
	s.published.Add(1)

	lastPublishedSeq.Set(float64(header.Sequence))
}

// Restore seeds the state from the newest stored ledger at startup. It
// does not count as a publish.
func (s *State) Restore(header ledger.Header) {
	s.lastSeq.Store(header.Sequence)
	s.lastCloseTime.Store(header.CloseTime)
	lastPublishedSeq.Set(float64(header.Sequence))
}

// LastCloseAgeSeconds is how long ago the newest published ledger closed,
// or 0 when nothing was published yet.
func (s *State) LastCloseAgeSeconds() uint32 {
	closeTime := s.lastCloseTime.Load()
	if closeTime == 0 {
		return 0
	}
	return ageSince(ledger.NetClockToTime(closeTime).Unix(), s.now())
}

// LastPublishAgeSeconds is how long ago a ledger was last published, or 0
// when nothing was published yet.
func (s *State) LastPublishAgeSeconds() uint32 {
	last := s.lastPublish.Load()
	if last == 0 {
		return 0
	}
	return ageSince(last, s.now())
}

// Report renders the state for server_info.
func (s *State) Report() map[string]any {
	return map[string]any{
		"last_published_seq":       s.lastSeq.Load(),
		"last_publish_age_seconds": s.LastPublishAgeSeconds(),
		"last_close_age_seconds":   s.LastCloseAgeSeconds(),
		"published_ledgers":        s.published.Load(),
	}
}

func ageSince(unix int64, now time.Time) uint32 {
	age := now.Unix() - unix
	if age < 0 {
		return 0
	}
	return uint32(age)
}
