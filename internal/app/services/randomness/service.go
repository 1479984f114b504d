// Package randomness manages the external randomness pipeline: issuing
// per-round requests from a bounded slot pool and routing delivered values
// to the draw, exactly once per round.
package randomness

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/randomness"
	"github.com/bclot-labs/raffle_layer/internal/app/metrics"
	"github.com/bclot-labs/raffle_layer/internal/app/storage"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

// ErrRequestPoolExhausted is returned when every request slot is occupied by
// a pending request. Slots free up as deliveries arrive.
var ErrRequestPoolExhausted = errors.New("randomness request pool exhausted")

// Consumer receives delivered random values.
type Consumer interface {
	ConsumeRandomness(ctx context.Context, roundID uint32, randomValue uint64) error
}

// Config carries the randomness service parameters.
type Config struct {
	// Slots bounds concurrently pending requests, 0 for unbounded.
	Slots int
	// AutoFulfill generates values locally instead of waiting for an
	// external provider. Meant for single-node and test deployments.
	AutoFulfill bool
}

// Service issues and settles randomness requests.
type Service struct {
	mu       sync.Mutex
	store    storage.RandomnessStore
	consumer Consumer
	cfg      Config
	inflight map[uint32]string
	log      *logger.Logger
}

// New constructs a randomness service. The consumer is attached separately
// because it is constructed after this service.
func New(store storage.RandomnessStore, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("randomness")
	}
	return &Service{
		store:    store,
		cfg:      cfg,
		inflight: make(map[uint32]string),
		log:      log,
	}
}

// SetConsumer attaches the delivery target.
func (s *Service) SetConsumer(c Consumer) {
	s.mu.Lock()
	s.consumer = c
	s.mu.Unlock()
}

// RequestForRound issues a randomness request for the round's draw. A round
// with a request already pending returns that request instead of a new one.
// With AutoFulfill enabled the request is settled immediately from the local
// entropy source.
func (s *Service) RequestForRound(ctx context.Context, roundID uint32) (randomness.Request, error) {
	s.mu.Lock()
	if id, ok := s.inflight[roundID]; ok {
		s.mu.Unlock()
		return s.store.GetRandomnessRequest(ctx, id)
	}

	pending, err := s.store.CountPendingRandomnessRequests(ctx)
	if err != nil {
		s.mu.Unlock()
		return randomness.Request{}, err
	}
	if s.cfg.Slots > 0 && pending >= s.cfg.Slots {
		s.mu.Unlock()
		metrics.RecordRandomnessRequest("rejected")
		return randomness.Request{}, ErrRequestPoolExhausted
	}

	req, err := s.store.CreateRandomnessRequest(ctx, randomness.Request{
		ID:      uuid.NewString(),
		RoundID: roundID,
		Seed:    seedFor(roundID),
		Status:  randomness.StatusPending,
	})
	if err != nil {
		s.mu.Unlock()
		return randomness.Request{}, err
	}
	s.inflight[roundID] = req.ID
	s.mu.Unlock()

	s.log.WithField("round_id", roundID).
		WithField("request_id", req.ID).
		Info("randomness requested")
	metrics.RecordRandomnessRequest("ok")

	if s.cfg.AutoFulfill {
		value, err := localRandom()
		if err != nil {
			return randomness.Request{}, err
		}
		if err := s.Deliver(ctx, req.ID, value); err != nil {
			return randomness.Request{}, err
		}
		return s.store.GetRandomnessRequest(ctx, req.ID)
	}
	return req, nil
}

// Deliver settles a request with its random value and hands it to the
// consumer. Delivering an already fulfilled request is a no-op, so provider
// retries never produce a second draw.
func (s *Service) Deliver(ctx context.Context, requestID string, randomValue uint64) error {
	s.mu.Lock()
	req, err := s.store.GetRandomnessRequest(ctx, requestID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if req.Fulfilled() {
		s.mu.Unlock()
		s.log.WithField("request_id", requestID).Debug("randomness already delivered")
		return nil
	}

	now := time.Now().UTC()
	req.Status = randomness.StatusFulfilled
	req.RandomValue = randomValue
	req.FulfilledAt = &now
	if _, err := s.store.UpdateRandomnessRequest(ctx, req); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.inflight, req.RoundID)
	consumer := s.consumer
	s.mu.Unlock()

	s.log.WithField("request_id", requestID).
		WithField("round_id", req.RoundID).
		Info("randomness delivered")
	metrics.RecordRandomnessRequest("delivered")

	if consumer == nil {
		return nil
	}
	if err := consumer.ConsumeRandomness(ctx, req.RoundID, randomValue); err != nil {
		return fmt.Errorf("consume randomness for round %d: %w", req.RoundID, err)
	}
	return nil
}

// GetRequest returns a request by its delivery token.
func (s *Service) GetRequest(ctx context.Context, requestID string) (randomness.Request, error) {
	return s.store.GetRandomnessRequest(ctx, requestID)
}

func seedFor(roundID uint32) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint32(buf[:4], roundID)
	binary.BigEndian.PutUint64(buf[4:12], uint64(time.Now().UnixNano()))
	if _, err := rand.Read(buf[12:]); err != nil {
		// the seed is provider input, not the draw value; fall back to
		// the deterministic part
		copy(buf[12:], buf[:4])
	}
	sum := sha256.Sum256(buf[:])
	return sum[:]
}

func localRandom() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read entropy: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
