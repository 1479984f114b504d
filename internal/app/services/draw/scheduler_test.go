package draw

import (
	"context"
	"testing"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/randomness"
	"github.com/bclot-labs/raffle_layer/internal/app/services/rounds"
)

type fakeSelector struct {
	advanced int
	roundID  uint32
	err      error
}

func (s *fakeSelector) AdvanceIfElapsed(context.Context) (bool, error) {
	s.advanced++
	return false, nil
}

func (s *fakeSelector) SelectRoundToProcess(context.Context) (uint32, error) {
	return s.roundID, s.err
}

type fakeRequester struct {
	requests []uint32
}

func (r *fakeRequester) RequestForRound(_ context.Context, roundID uint32) (randomness.Request, error) {
	r.requests = append(r.requests, roundID)
	return randomness.Request{ID: "req", RoundID: roundID}, nil
}

func TestTickRequestsRandomnessForDueRound(t *testing.T) {
	selector := &fakeSelector{roundID: 3}
	requester := &fakeRequester{}
	s := NewScheduler(selector, requester, 0, nil)

	s.Tick(context.Background())

	if selector.advanced != 1 {
		t.Fatalf("advance not attempted")
	}
	if len(requester.requests) != 1 || requester.requests[0] != 3 {
		t.Fatalf("requests: %v", requester.requests)
	}
}

func TestTickSkipsWhenNothingDue(t *testing.T) {
	selector := &fakeSelector{err: rounds.ErrRoundNotEndedYet}
	requester := &fakeRequester{}
	s := NewScheduler(selector, requester, 0, nil)

	s.Tick(context.Background())

	if len(requester.requests) != 0 {
		t.Fatalf("unexpected randomness request: %v", requester.requests)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	selector := &fakeSelector{err: rounds.ErrRoundNotCreated}
	s := NewScheduler(selector, &fakeRequester{}, 0, nil)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
