package businessflow

import (
	"context"

	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/repository"
	"go.uber.org/zap"
)

// ReplayCache remembers external refs that were already applied. It is only a fast path:
// the processed_events table decides.
type ReplayCache interface {
	Seen(ctx context.Context, externalRef string) (bool, error)
	Mark(ctx context.Context, externalRef string) error
}

// IdempotencyGuard decides whether an external event is applied for the first time
type IdempotencyGuard interface {
	// RecordIfNew records ref and reports whether this call recorded it. Run it in the
	// same unit of work as the mutation it protects.
	RecordIfNew(ctx context.Context, externalRef string, source models.ProcessedEventSource, klienID *uint) (bool, error)
	// KnownReplay reports whether the cache already saw ref. False means "unknown", not "new".
	KnownReplay(ctx context.Context, externalRef string) bool
	// Remember marks ref in the cache after the protecting unit of work committed
	Remember(ctx context.Context, externalRef string)
}

// IdempotencyGuardImpl implements IdempotencyGuard
type IdempotencyGuardImpl struct {
	eventRepo repository.ProcessedEventRepository
	cache     ReplayCache
	logger    *zap.Logger
}

// NewIdempotencyGuard creates a guard. cache may be nil.
func NewIdempotencyGuard(eventRepo repository.ProcessedEventRepository, cache ReplayCache, logger *zap.Logger) *IdempotencyGuardImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyGuardImpl{
		eventRepo: eventRepo,
		cache:     cache,
		logger:    logger.Named("idempotency"),
	}
}

// RecordIfNew inserts the processed event unless it exists
func (g *IdempotencyGuardImpl) RecordIfNew(ctx context.Context, externalRef string, source models.ProcessedEventSource, klienID *uint) (bool, error) {
	if externalRef == "" {
		return false, ErrInvalidPayload
	}
	return g.eventRepo.InsertIfAbsent(ctx, &models.ProcessedEvent{
		ExternalRef: externalRef,
		Source:      source,
		KlienID:     klienID,
	})
}

// KnownReplay consults the cache; cache failures count as "unknown"
func (g *IdempotencyGuardImpl) KnownReplay(ctx context.Context, externalRef string) bool {
	if g.cache == nil {
		return false
	}
	seen, err := g.cache.Seen(ctx, externalRef)
	if err != nil {
		g.logger.Warn("replay cache lookup failed", zap.String("external_ref", externalRef), zap.Error(err))
		return false
	}
	return seen
}

// Remember writes the cache marker
func (g *IdempotencyGuardImpl) Remember(ctx context.Context, externalRef string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Mark(ctx, externalRef); err != nil {
		g.logger.Warn("replay cache write failed", zap.String("external_ref", externalRef), zap.Error(err))
	}
}
