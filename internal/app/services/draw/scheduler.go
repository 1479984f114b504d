package draw

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/randomness"
	"github.com/bclot-labs/raffle_layer/internal/app/services/rounds"
	"github.com/bclot-labs/raffle_layer/internal/app/system"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// RoundSelector is the slice of the round service the scheduler drives.
type RoundSelector interface {
	AdvanceIfElapsed(ctx context.Context) (bool, error)
	SelectRoundToProcess(ctx context.Context) (uint32, error)
}

// RandomnessRequester asks for external randomness for a round's draw.
type RandomnessRequester interface {
	RequestForRound(ctx context.Context, roundID uint32) (randomness.Request, error)
}

// Scheduler periodically rolls elapsed rounds forward and requests
// randomness for rounds owing a draw. Winner selection itself happens when
// the randomness is delivered.
type Scheduler struct {
	selector  RoundSelector
	requester RandomnessRequester
	log       *logger.Logger
	interval  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a lifecycle-managed draw scheduler.
func NewScheduler(selector RoundSelector, requester RandomnessRequester, interval time.Duration, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("draw-scheduler")
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{
		selector:  selector,
		requester: requester,
		log:       log,
		interval:  interval,
	}
}

func (s *Scheduler) Name() string { return "draw-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Tick(runCtx)
			}
		}
	}()

	s.log.Info("draw scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("draw scheduler stopped")
	return nil
}

// Tick runs one scheduling pass. Exported so the pass can also be driven
// manually.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.selector.AdvanceIfElapsed(ctx); err != nil {
		s.log.WithError(err).Warn("round advance failed")
	}

	roundID, err := s.selector.SelectRoundToProcess(ctx)
	if err != nil {
		if errors.Is(err, rounds.ErrRoundNotCreated) ||
			errors.Is(err, rounds.ErrRoundNotEndedYet) ||
			errors.Is(err, rounds.ErrRoundNotOpen) {
			return
		}
		s.log.WithError(err).Warn("round selection failed")
		return
	}

	if _, err := s.requester.RequestForRound(ctx, roundID); err != nil {
		s.log.WithError(err).
			WithField("round_id", roundID).
			Warn("randomness request failed")
	}
}
