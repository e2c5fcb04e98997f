package services

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// GenerationLimiter caps how many jobs run on the image backend at once across requests.
type GenerationLimiter struct {
	logger    *slog.Logger
	semaphore *semaphore.Weighted
	limit     int64
}

func NewGenerationLimiter(logger *slog.Logger, maxConcurrentJobs int64) *GenerationLimiter {
	// Default to 4 concurrent jobs if not set
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = 4
	}
	return &GenerationLimiter{
		logger:    logger,
		semaphore: semaphore.NewWeighted(maxConcurrentJobs),
		limit:     maxConcurrentJobs,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *GenerationLimiter) Acquire(ctx context.Context) error {
	if l.semaphore.TryAcquire(1) {
		return nil
	}
	l.logger.Debug("waiting for generation slot", "limit", l.limit)
	return l.semaphore.Acquire(ctx, 1)
}

func (l *GenerationLimiter) Release() {
	l.semaphore.Release(1)
}

func (l *GenerationLimiter) Limit() int64 {
	return l.limit
}
