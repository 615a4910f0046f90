package service

import (
	"context"
	"time"

	"mailroom/internal/metrics"
	"mailroom/internal/models"

	"github.com/sirupsen/logrus"
)

// DedupStrategy names the matching strategy that identified a duplicate.
type DedupStrategy string

const (
	// StrategyProviderMessageID is the highest-trust match: unique per
	// provider and stable across re-deliveries.
	StrategyProviderMessageID DedupStrategy = "provider_message_id"
	// StrategyRFCMessageID matches the cross-provider RFC 822 Message-ID.
	StrategyRFCMessageID DedupStrategy = "rfc_message_id"
	// StrategyFingerprint is the lowest-trust match: sender + subject +
	// received time within a symmetric tolerance window.
	StrategyFingerprint DedupStrategy = "fingerprint"
	// StrategyStorageConstraint marks a duplicate surfaced by the unique
	// index at insert time, after all read-side strategies missed.
	StrategyStorageConstraint DedupStrategy = "storage_constraint"
)

// DedupResult is the outcome of a duplicate check.
type DedupResult struct {
	IsDuplicate bool
	Strategy    DedupStrategy
	ExistingID  int64
}

type dedupStore interface {
	GetCommunicationByProviderMessageID(ctx context.Context, providerID string) (*models.Communication, error)
	GetCommunicationByRFCMessageID(ctx context.Context, rfcID string) (*models.Communication, error)
	FindCommunicationByFingerprint(ctx context.Context, from, subject string, receivedAt time.Time, tolerance time.Duration) (*models.Communication, error)
}

// DedupEngine answers "have we already recorded this message" using
// layered keys of decreasing trust. Its negative answer must be obtained
// before any insert; the residual race between concurrent callers is
// closed by the storage-layer unique index, not here.
type DedupEngine struct {
	store     dedupStore
	tolerance time.Duration
	logger    *logrus.Logger
}

func NewDedupEngine(store dedupStore, tolerance time.Duration, logger *logrus.Logger) *DedupEngine {
	return &DedupEngine{
		store:     store,
		tolerance: tolerance,
		logger:    logger,
	}
}

// Check runs the strategy chain in trust order, first match wins. Each
// strategy is queried independently: a failing strategy logs and falls
// through so one bad index cannot block ingestion.
func (e *DedupEngine) Check(ctx context.Context, msg *models.ExternalMessage) (*DedupResult, error) {
	if msg.ProviderMessageID != "" {
		existing, err := e.store.GetCommunicationByProviderMessageID(ctx, msg.ProviderMessageID)
		if err != nil {
			e.logger.WithError(err).WithField("strategy", StrategyProviderMessageID).
				Warn("Dedup strategy failed, falling through")
		} else if existing != nil {
			return e.duplicate(StrategyProviderMessageID, existing.ID), nil
		}
	}

	if msg.RFCMessageID != "" {
		existing, err := e.store.GetCommunicationByRFCMessageID(ctx, msg.RFCMessageID)
		if err != nil {
			e.logger.WithError(err).WithField("strategy", StrategyRFCMessageID).
				Warn("Dedup strategy failed, falling through")
		} else if existing != nil {
			return e.duplicate(StrategyRFCMessageID, existing.ID), nil
		}
	}

	existing, err := e.store.FindCommunicationByFingerprint(ctx, msg.From, msg.Subject, msg.ReceivedAt, e.tolerance)
	if err != nil {
		e.logger.WithError(err).WithField("strategy", StrategyFingerprint).
			Warn("Dedup strategy failed, falling through")
	} else if existing != nil {
		return e.duplicate(StrategyFingerprint, existing.ID), nil
	}

	return &DedupResult{IsDuplicate: false}, nil
}

func (e *DedupEngine) duplicate(strategy DedupStrategy, existingID int64) *DedupResult {
	metrics.IncrementCounter("dedup_duplicates_total", map[string]string{
		"strategy": string(strategy),
	}, "Duplicate messages detected by strategy")

	return &DedupResult{
		IsDuplicate: true,
		Strategy:    strategy,
		ExistingID:  existingID,
	}
}
