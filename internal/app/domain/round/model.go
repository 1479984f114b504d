// Package round defines the raffle round model: the per-round accumulator
// state, its purchase records and the cumulative ticket ledger winners are
// drawn from.
package round

import "time"

// Status is the lifecycle state of a round.
type Status string

const (
	// StatusOpen accepts ticket purchases (round ongoing or awaiting draw).
	StatusOpen Status = "open"
	// StatusCompleted is terminal: a winner has been drawn and the round
	// rejects all further writes except prize settlement.
	StatusCompleted Status = "completed"
)

// DefaultDuration is the fixed length of a sales window.
const DefaultDuration = 10 * time.Minute

// AlignedEnd returns the close time for a round created at now: now rounded
// up to the next multiple of d on the wall clock, so consecutive rounds tile
// the timeline without gaps.
func AlignedEnd(now time.Time, d time.Duration) time.Time {
	if d <= 0 {
		d = DefaultDuration
	}
	secs := int64(d / time.Second)
	unix := now.Unix()
	return time.Unix(unix-unix%secs+secs, 0).UTC()
}

// Round is the full state of one raffle round.
type Round struct {
	RoundID             uint32       `json:"round_id"`
	Status              Status       `json:"status"`
	StartTime           time.Time    `json:"start_time"`
	EndTime             time.Time    `json:"end_time"`
	PrizeAmount         uint64       `json:"prize_amount"`
	CommissionBalance   uint64       `json:"commission_balance"`
	PurchasesCount      uint32       `json:"purchases_count"`
	TotalTickets        uint32       `json:"total_tickets"`
	WinnerTicketIndex   *uint32      `json:"winner_ticket_index,omitempty"`
	WinnerPurchaseIndex *uint32      `json:"winner_purchase_index,omitempty"`
	WinnerAddress       string       `json:"winner_address,omitempty"`
	PrizeClaimed        bool         `json:"prize_claimed"`
	Ledger              TicketLedger `json:"ledger"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Ended reports whether the sales window has closed at now.
func (r *Round) Ended(now time.Time) bool {
	return !now.Before(r.EndTime)
}

// Completed reports whether the round reached its terminal state.
func (r *Round) Completed() bool { return r.Status == StatusCompleted }

// Clone returns an independent copy of the round.
func (r Round) Clone() Round {
	out := r
	out.Ledger = r.Ledger.Clone()
	if r.WinnerTicketIndex != nil {
		v := *r.WinnerTicketIndex
		out.WinnerTicketIndex = &v
	}
	if r.WinnerPurchaseIndex != nil {
		v := *r.WinnerPurchaseIndex
		out.WinnerPurchaseIndex = &v
	}
	return out
}

// Purchase is one buyer's entry in a round. PurchaseIndex is the position of
// the matching ledger entry, and TicketsCount includes any bonus ticket
// granted on top of the paid count.
type Purchase struct {
	RoundID       uint32    `json:"round_id"`
	PurchaseIndex uint32    `json:"purchase_index"`
	Buyer         string    `json:"buyer"`
	TicketsCount  uint32    `json:"tickets_count"`
	PaidTickets   uint32    `json:"paid_tickets"`
	Cost          uint64    `json:"cost"`
	CreatedAt     time.Time `json:"created_at"`
}

// Result is the settled outcome view of a completed round.
type Result struct {
	RoundID             uint32  `json:"round_id"`
	TotalTickets        uint32  `json:"total_tickets"`
	PrizeAmount         uint64  `json:"prize_amount"`
	CommissionBalance   uint64  `json:"commission_balance"`
	WinnerTicketIndex   *uint32 `json:"winner_ticket_index,omitempty"`
	WinnerPurchaseIndex *uint32 `json:"winner_purchase_index,omitempty"`
	WinnerAddress       string  `json:"winner_address,omitempty"`
	PrizeClaimed        bool    `json:"prize_claimed"`
}

// ResultView projects the round into its settled outcome.
func (r *Round) ResultView() Result {
	res := Result{
		RoundID:           r.RoundID,
		TotalTickets:      r.TotalTickets,
		PrizeAmount:       r.PrizeAmount,
		CommissionBalance: r.CommissionBalance,
		WinnerAddress:     r.WinnerAddress,
		PrizeClaimed:      r.PrizeClaimed,
	}
	if r.WinnerTicketIndex != nil {
		v := *r.WinnerTicketIndex
		res.WinnerTicketIndex = &v
	}
	if r.WinnerPurchaseIndex != nil {
		v := *r.WinnerPurchaseIndex
		res.WinnerPurchaseIndex = &v
	}
	return res
}
