// Package randomness defines the external randomness request model.
package randomness

import "time"

// RequestStatus tracks the lifecycle of a randomness request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
)

// Request is one outstanding (or settled) ask for external randomness tied
// to a specific round. ID doubles as the delivery token the provider echoes
// back with the random value.
type Request struct {
	ID          string        `json:"id"`
	RoundID     uint32        `json:"round_id"`
	Seed        []byte        `json:"seed"`
	Status      RequestStatus `json:"status"`
	RandomValue uint64        `json:"random_value"`
	CreatedAt   time.Time     `json:"created_at"`
	FulfilledAt *time.Time    `json:"fulfilled_at,omitempty"`
}

// Fulfilled reports whether a random value has been delivered.
func (r *Request) Fulfilled() bool { return r.Status == StatusFulfilled }

// Clone returns an independent copy of the request.
func (r Request) Clone() Request {
	out := r
	if len(r.Seed) > 0 {
		out.Seed = append([]byte(nil), r.Seed...)
	}
	if r.FulfilledAt != nil {
		v := *r.FulfilledAt
		out.FulfilledAt = &v
	}
	return out
}
