// Package directory defines the global raffle directory: the singleton index
// that tracks the current round, the lifetime round count and the FIFO queue
// of rounds whose sales windows closed before a winner could be drawn.
package directory

import (
	"time"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
)

// Directory is the singleton round index. CurrentRoundID is nil until the
// first round opens; the mirrored status and end time track the current
// round only, while PendingRounds holds rounds still awaiting their draw in
// arrival order.
type Directory struct {
	CurrentRoundID      *uint32      `json:"current_round_id,omitempty"`
	CurrentRoundStatus  round.Status `json:"current_round_status,omitempty"`
	CurrentRoundEndTime *time.Time   `json:"current_round_end_time,omitempty"`
	TotalRounds         uint32       `json:"total_rounds"`
	PendingRounds       []uint32     `json:"pending_rounds"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// IsCurrent reports whether id is the directory's current round.
func (d *Directory) IsCurrent(id uint32) bool {
	return d.CurrentRoundID != nil && *d.CurrentRoundID == id
}

// MarkPending enqueues id for a deferred draw. Duplicates are ignored so a
// round is drawn at most once; it reports whether the id was added.
func (d *Directory) MarkPending(id uint32) bool {
	for _, p := range d.PendingRounds {
		if p == id {
			return false
		}
	}
	d.PendingRounds = append(d.PendingRounds, id)
	return true
}

// RemovePending drops id from the pending queue, preserving order.
func (d *Directory) RemovePending(id uint32) {
	out := d.PendingRounds[:0]
	for _, p := range d.PendingRounds {
		if p != id {
			out = append(out, p)
		}
	}
	d.PendingRounds = out
}

// PendingHead returns the oldest pending round id, if any.
func (d *Directory) PendingHead() (uint32, bool) {
	if len(d.PendingRounds) == 0 {
		return 0, false
	}
	return d.PendingRounds[0], true
}

// Clone returns an independent copy of the directory.
func (d Directory) Clone() Directory {
	out := d
	if d.CurrentRoundID != nil {
		v := *d.CurrentRoundID
		out.CurrentRoundID = &v
	}
	if d.CurrentRoundEndTime != nil {
		v := *d.CurrentRoundEndTime
		out.CurrentRoundEndTime = &v
	}
	if len(d.PendingRounds) > 0 {
		out.PendingRounds = append([]uint32(nil), d.PendingRounds...)
	}
	return out
}
