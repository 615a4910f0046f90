package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"mailroom/internal/errors"
	"mailroom/internal/metrics"
	"mailroom/internal/models"
	"mailroom/internal/retry"

	"github.com/sirupsen/logrus"
)

type deadLetterStore interface {
	InsertDeadLetter(ctx context.Context, dl *models.DeadLetter) (int64, error)
	ListRetryableDeadLetters(ctx context.Context, now time.Time, limit int) ([]*models.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetter, error)
	ListDeadLettersByStatus(ctx context.Context, status models.DeadLetterStatus, limit int) ([]*models.DeadLetter, error)
	UpdateDeadLetterRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, status models.DeadLetterStatus, errMessage string) error
	SetDeadLetterTerminal(ctx context.Context, id int64, status models.DeadLetterStatus, note string) error
}

// RetryHandler replays one captured operation. A nil return resolves the
// dead letter; an error schedules the next attempt.
type RetryHandler func(ctx context.Context, dl *models.DeadLetter) error

// DeadLetterService captures failed operations and replays them on a
// schedule with exponential backoff. Capture is deliberately infallible
// from the caller's point of view: a store error here is logged, never
// propagated, because the alternative is failing the operation twice.
type DeadLetterService struct {
	store      deadLetterStore
	backoff    *retry.Backoff
	maxRetries int
	logger     *logrus.Logger

	mu       sync.RWMutex
	handlers map[models.OperationType]RetryHandler

	now func() time.Time
}

func NewDeadLetterService(store deadLetterStore, backoff *retry.Backoff, maxRetries int, logger *logrus.Logger) *DeadLetterService {
	return &DeadLetterService{
		store:      store,
		backoff:    backoff,
		maxRetries: maxRetries,
		logger:     logger,
		handlers:   make(map[models.OperationType]RetryHandler),
		now:        time.Now,
	}
}

// RegisterHandler installs the replay handler for an operation type.
// Items of an unregistered type stay queued untouched.
func (s *DeadLetterService) RegisterHandler(opType models.OperationType, handler RetryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[opType] = handler
}

func (s *DeadLetterService) handler(opType models.OperationType) RetryHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[opType]
}

// Add captures a failed operation. Errors are swallowed after logging so
// capture can never compound the original failure.
func (s *DeadLetterService) Add(ctx context.Context, opType models.OperationType, opKey string, cause error, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"operationType": opType,
			"operationKey":  opKey,
		}).Error("Failed to marshal dead letter payload, dropping capture")
		return
	}

	dl := &models.DeadLetter{
		OperationType: opType,
		OperationKey:  opKey,
		ErrorMessage:  cause.Error(),
		ErrorCode:     string(errors.GetCode(cause)),
		Payload:       raw,
		RetryCount:    0,
		MaxRetries:    s.maxRetries,
		NextRetryAt:   s.now().Add(s.backoff.GetNextDelay(1)),
		Status:        models.DeadLetterPending,
	}

	id, err := s.store.InsertDeadLetter(ctx, dl)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"operationType": opType,
			"operationKey":  opKey,
		}).Error("Failed to persist dead letter")
		return
	}

	metrics.IncrementCounter("dead_letters_captured_total", map[string]string{
		"operation": string(opType),
	}, "Operations captured in the dead letter store")

	s.logger.WithFields(logrus.Fields{
		"deadLetterId":  id,
		"operationType": opType,
		"operationKey":  opKey,
	}).Warn("Captured failed operation for replay")
}

// SweepStats summarises one retry pass over the queue.
type SweepStats struct {
	Examined  int
	Resolved  int
	Retried   int
	Exhausted int
	Skipped   int
}

// Sweep replays every due item once. Item outcomes are independent; a
// failing item never stops the pass.
func (s *DeadLetterService) Sweep(ctx context.Context, batchSize int) (SweepStats, error) {
	var stats SweepStats

	items, err := s.store.ListRetryableDeadLetters(ctx, s.now(), batchSize)
	if err != nil {
		return stats, errors.NewDatabaseError("list retryable dead letters", err)
	}

	for _, dl := range items {
		stats.Examined++
		s.replay(ctx, dl, &stats)
	}

	if stats.Examined > 0 {
		s.logger.WithFields(logrus.Fields{
			"examined":  stats.Examined,
			"resolved":  stats.Resolved,
			"retried":   stats.Retried,
			"exhausted": stats.Exhausted,
		}).Info("Dead letter sweep complete")
	}
	return stats, nil
}

func (s *DeadLetterService) replay(ctx context.Context, dl *models.DeadLetter, stats *SweepStats) {
	handler := s.handler(dl.OperationType)
	if handler == nil {
		s.logger.WithFields(logrus.Fields{
			"deadLetterId":  dl.ID,
			"operationType": dl.OperationType,
		}).Warn("No retry handler registered, leaving queued")
		stats.Skipped++
		return
	}

	if err := handler(ctx, dl); err != nil {
		s.recordFailure(ctx, dl, err, stats)
		return
	}

	if uerr := s.store.SetDeadLetterTerminal(ctx, dl.ID, models.DeadLetterResolved, "retry succeeded"); uerr != nil {
		s.logger.WithError(uerr).WithField("deadLetterId", dl.ID).
			Error("Failed to mark dead letter resolved")
		return
	}
	metrics.IncrementCounter("dead_letters_resolved_total", nil, "Dead letters resolved by retry")
	stats.Resolved++
}

func (s *DeadLetterService) recordFailure(ctx context.Context, dl *models.DeadLetter, cause error, stats *SweepStats) {
	retryCount := dl.RetryCount + 1

	if retryCount >= dl.MaxRetries {
		if uerr := s.store.SetDeadLetterTerminal(ctx, dl.ID, models.DeadLetterFailed, cause.Error()); uerr != nil {
			s.logger.WithError(uerr).WithField("deadLetterId", dl.ID).
				Error("Failed to mark dead letter exhausted")
			return
		}
		metrics.IncrementCounter("dead_letters_exhausted_total", nil, "Dead letters that exhausted their retries")
		s.logger.WithFields(logrus.Fields{
			"deadLetterId": dl.ID,
			"retryCount":   retryCount,
		}).Error("Dead letter exhausted retries, operator attention required")
		stats.Exhausted++
		return
	}

	nextRetryAt := s.now().Add(s.backoff.GetNextDelay(retryCount + 1))
	if uerr := s.store.UpdateDeadLetterRetry(ctx, dl.ID, retryCount, nextRetryAt, models.DeadLetterRetrying, cause.Error()); uerr != nil {
		s.logger.WithError(uerr).WithField("deadLetterId", dl.ID).
			Error("Failed to reschedule dead letter")
		return
	}
	stats.Retried++
}

// Resolve marks a dead letter handled outside the retry loop, e.g. after
// an operator fixed the underlying record by hand.
func (s *DeadLetterService) Resolve(ctx context.Context, id int64, note string) error {
	return s.setTerminal(ctx, id, models.DeadLetterResolved, note)
}

// Ignore marks a dead letter as not worth replaying.
func (s *DeadLetterService) Ignore(ctx context.Context, id int64, reason string) error {
	return s.setTerminal(ctx, id, models.DeadLetterIgnored, reason)
}

func (s *DeadLetterService) setTerminal(ctx context.Context, id int64, status models.DeadLetterStatus, note string) error {
	dl, err := s.store.GetDeadLetter(ctx, id)
	if err != nil {
		return errors.NewDatabaseError("get dead letter", err)
	}
	if dl == nil {
		return errors.NewNotFoundError("dead letter", strconv.FormatInt(id, 10))
	}
	if err := s.store.SetDeadLetterTerminal(ctx, id, status, note); err != nil {
		return errors.NewDatabaseError("update dead letter", err)
	}
	return nil
}

// List exposes the queue for the operator API.
func (s *DeadLetterService) List(ctx context.Context, status models.DeadLetterStatus, limit int) ([]*models.DeadLetter, error) {
	return s.store.ListDeadLettersByStatus(ctx, status, limit)
}
