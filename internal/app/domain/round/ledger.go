package round

import (
	"errors"
	"sort"
)

// DefaultLedgerCapacity mirrors the storage budget the raffle was originally
// deployed with. A capacity of zero means the ledger grows without bound.
const DefaultLedgerCapacity = 2048

var (
	// ErrLedgerFull is returned when appending beyond the ledger capacity.
	ErrLedgerFull = errors.New("ticket ledger full")
	// ErrTicketNotFound is returned when a ticket index falls outside the
	// recorded cumulative range. It indicates the ledger and the round's
	// ticket total have diverged and is fatal for the round.
	ErrTicketNotFound = errors.New("ticket not found")
)

// TicketLedger is the append-only cumulative ticket structure for one round.
// Entry i holds the total number of tickets sold after purchase i completed,
// so the sequence is strictly increasing and the last entry always equals the
// round's ticket total. Ownership of a single ticket index resolves with an
// upper-bound binary search instead of materialising one entry per ticket.
type TicketLedger struct {
	Cumulative []uint32 `json:"cumulative"`
	Capacity   int      `json:"capacity"`
}

// NewTicketLedger returns an empty ledger bounded by capacity (0 = unbounded).
func NewTicketLedger(capacity int) TicketLedger {
	return TicketLedger{Capacity: capacity}
}

// Len reports the number of recorded purchases.
func (l *TicketLedger) Len() int { return len(l.Cumulative) }

// At returns the cumulative total after purchase i.
func (l *TicketLedger) At(i int) uint32 { return l.Cumulative[i] }

// Last returns the running ticket total, zero for an empty ledger.
func (l *TicketLedger) Last() uint32 {
	if len(l.Cumulative) == 0 {
		return 0
	}
	return l.Cumulative[len(l.Cumulative)-1]
}

// Full reports whether another append would exceed capacity.
func (l *TicketLedger) Full() bool {
	return l.Capacity > 0 && len(l.Cumulative) >= l.Capacity
}

// Append records the running total after one more purchase and returns the
// purchase index it was stored at.
func (l *TicketLedger) Append(cumulative uint32) (uint32, error) {
	if l.Full() {
		return 0, ErrLedgerFull
	}
	l.Cumulative = append(l.Cumulative, cumulative)
	return uint32(len(l.Cumulative) - 1), nil
}

// LookupOwner maps a ticket index to the purchase that owns it: the smallest
// i with Cumulative[i] > target. target must be below the running total.
func (l *TicketLedger) LookupOwner(target uint32) (uint32, error) {
	n := len(l.Cumulative)
	i := sort.Search(n, func(i int) bool { return l.Cumulative[i] > target })
	if i >= n {
		return 0, ErrTicketNotFound
	}
	return uint32(i), nil
}

// Clone returns an independent copy of the ledger.
func (l TicketLedger) Clone() TicketLedger {
	out := TicketLedger{Capacity: l.Capacity}
	if len(l.Cumulative) > 0 {
		out.Cumulative = append([]uint32(nil), l.Cumulative...)
	}
	return out
}
