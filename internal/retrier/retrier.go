package retrier

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/engine"
	apperrors "github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// RetrySource lists failed deliveries eligible for another attempt.
type RetrySource interface {
	FindRetryable(ctx context.Context, minAge time.Duration, limit int) ([]*domain.EmailDeliveryLog, error)
}

const (
	// sweepBatchSize bounds how many failed deliveries one sweep touches.
	sweepBatchSize = 100
	// minFailureAge keeps the sweeper off deliveries that just failed, so a
	// transient provider hiccup gets time to clear.
	minFailureAge = 5 * time.Minute
)

// RetrySweeper periodically re-dispatches failed deliveries that still have
// retry budget. Each retry is a fresh delivery log in the same lineage.
type RetrySweeper struct {
	cron       *cron.Cron
	engine     *engine.Engine
	deliveries RetrySource
	schedule   string
	log        *logger.Logger
}

// NewRetrySweeper creates a retry sweeper on the given cron schedule.
func NewRetrySweeper(eng *engine.Engine, deliveries RetrySource, schedule string, log *logger.Logger) *RetrySweeper {
	return &RetrySweeper{
		cron:       cron.New(),
		engine:     eng,
		deliveries: deliveries,
		schedule:   schedule,
		log:        log,
	}
}

// Start registers the sweep job and starts the cron loop
func (s *RetrySweeper) Start() error {
	s.log.Info("Starting retry sweeper", "schedule", s.schedule)

	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron loop
func (s *RetrySweeper) Stop() {
	s.log.Info("Stopping retry sweeper")
	s.cron.Stop()
}

// sweep runs one pass over retryable failures
func (s *RetrySweeper) sweep() {
	ctx := context.Background()

	failed, err := s.deliveries.FindRetryable(ctx, minFailureAge, sweepBatchSize)
	if err != nil {
		s.log.Error("Failed to list retryable deliveries", "error", err)
		return
	}
	if len(failed) == 0 {
		return
	}

	s.log.Info("Retrying failed deliveries", "count", len(failed))

	retried := 0
	for _, origin := range failed {
		if err := s.engine.RetryDelivery(ctx, origin); err != nil {
			// Rate limit exhaustion applies to the whole organization, but
			// the next delivery may belong to a different one.
			if apperrors.HasCode(err, apperrors.CodeRateLimitExceeded) {
				s.log.Warn("Retry skipped, send budget exhausted", "org_id", origin.OrgID, "delivery_id", origin.ID.Hex())
				continue
			}
			s.log.Error("Retry attempt failed", "error", err, "delivery_id", origin.ID.Hex(), "lineage_id", origin.LineageID)
			continue
		}
		retried++
	}

	s.log.Info("Retry sweep finished", "retried", retried, "eligible", len(failed))
}
