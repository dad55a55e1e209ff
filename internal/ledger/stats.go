package ledger

import "sync/atomic"

// Stats holds run-wide counters shared by every worker
type Stats struct {
	lastID atomic.Int64
	splits atomic.Int64
}

// NewStats returns counters for a run that has not seen any item yet
func NewStats() *Stats {
	s := &Stats{}
	s.lastID.Store(-1)
	return s
}

// UpdateLastID raises the high-water mark to id; lower ids are ignored
func (s *Stats) UpdateLastID(id int) {
	for {
		cur := s.lastID.Load()
		if int64(id) <= cur {
			return
		}
		if s.lastID.CompareAndSwap(cur, int64(id)) {
			return
		}
	}
}

// SetLastID overwrites the high-water mark
func (s *Stats) SetLastID(id int) {
	s.lastID.Store(int64(id))
}

// LastID returns the highest item id seen, -1 if none
func (s *Stats) LastID() int {
	return int(s.lastID.Load())
}

// IncSplits counts one extra index document produced by splitting an item
func (s *Stats) IncSplits() {
	s.splits.Add(1)
}

// Splits returns the number of extra documents produced by splitting
func (s *Stats) Splits() int64 {
	return s.splits.Load()
}
