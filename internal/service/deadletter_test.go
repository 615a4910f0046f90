package service

import (
	"context"
	"testing"
	"time"

	"mailroom/internal/models"
	"mailroom/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newDeadLetterFixture(store *mockDeadLetterStore) *DeadLetterService {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       false,
	})
	return NewDeadLetterService(store, backoff, 5, testLogger())
}

func TestDeadLetterAdd_PersistsCapture(t *testing.T) {
	store := &mockDeadLetterStore{}
	svc := newDeadLetterFixture(store)
	ctx := context.Background()

	store.On("InsertDeadLetter", ctx, mock.MatchedBy(func(dl *models.DeadLetter) bool {
		return dl.OperationType == models.OperationEmailImport &&
			dl.OperationKey == "prov-1" &&
			dl.Status == models.DeadLetterPending &&
			dl.MaxRetries == 5 &&
			dl.NextRetryAt.After(time.Now())
	})).Return(int64(1), nil).Once()

	svc.Add(ctx, models.OperationEmailImport, "prov-1", assert.AnError, map[string]string{"k": "v"})
	store.AssertExpectations(t)
}

func TestDeadLetterAdd_SwallowsStoreError(t *testing.T) {
	store := &mockDeadLetterStore{}
	svc := newDeadLetterFixture(store)
	ctx := context.Background()

	store.On("InsertDeadLetter", ctx, mock.Anything).Return(int64(0), assert.AnError).Once()

	// Must not panic or propagate; capture is best-effort.
	svc.Add(ctx, models.OperationEmailImport, "prov-1", assert.AnError, nil)
	store.AssertExpectations(t)
}

func TestSweep_ResolvesOnHandlerSuccess(t *testing.T) {
	store := &mockDeadLetterStore{}
	svc := newDeadLetterFixture(store)
	ctx := context.Background()

	item := &models.DeadLetter{ID: 1, OperationType: models.OperationEmailImport, MaxRetries: 5}
	store.On("ListRetryableDeadLetters", ctx, mock.Anything, 25).Return([]*models.DeadLetter{item}, nil).Once()
	store.On("SetDeadLetterTerminal", ctx, int64(1), models.DeadLetterResolved, "retry succeeded").Return(nil).Once()

	svc.RegisterHandler(models.OperationEmailImport, func(ctx context.Context, dl *models.DeadLetter) error {
		return nil
	})

	stats, err := svc.Sweep(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	store.AssertExpectations(t)
}

func TestSweep_ReschedulesOnHandlerFailure(t *testing.T) {
	store := &mockDeadLetterStore{}
	svc := newDeadLetterFixture(store)
	ctx := context.Background()

	item := &models.DeadLetter{ID: 1, OperationType: models.OperationEmailImport, RetryCount: 1, MaxRetries: 5}
	store.On("ListRetryableDeadLetters", ctx, mock.Anything, 25).Return([]*models.DeadLetter{item}, nil).Once()
	store.On("UpdateDeadLetterRetry", ctx, int64(1), 2, mock.MatchedBy(func(next time.Time) bool {
		return next.After(time.Now())
	}), models.DeadLetterRetrying, assert.AnError.Error()).Return(nil).Once()

	svc.RegisterHandler(models.OperationEmailImport, func(ctx context.Context, dl *models.DeadLetter) error {
		return assert.AnError
	})

	stats, err := svc.Sweep(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	store.AssertExpectations(t)
}

func TestSweep_ExhaustedRetriesMarkFailed(t *testing.T) {
	store := &mockDeadLetterStore{}
	svc := newDeadLetterFixture(store)
	ctx := context.Background()

	item := &models.DeadLetter{ID: 1, OperationType: models.OperationEmailImport, RetryCount: 4, MaxRetries: 5}
	store.On("ListRetryableDeadLetters", ctx, mock.Anything, 25).Return([]*models.DeadLetter{item}, nil).Once()
	store.On("SetDeadLetterTerminal", ctx, int64(1), models.DeadLetterFailed, assert.AnError.Error()).Return(nil).Once()

	svc.RegisterHandler(models.OperationEmailImport, func(ctx context.Context, dl *models.DeadLetter) error {
		return assert.AnError
	})

	stats, err := svc.Sweep(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exhausted)
	store.AssertNotCalled(t, "UpdateDeadLetterRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweep_UnhandledTypeStaysQueued(t *testing.T) {
	store := &mockDeadLetterStore{}
	svc := newDeadLetterFixture(store)
	ctx := context.Background()

	item := &models.DeadLetter{ID: 1, OperationType: "unknown_op", MaxRetries: 5}
	store.On("ListRetryableDeadLetters", ctx, mock.Anything, 25).Return([]*models.DeadLetter{item}, nil).Once()

	stats, err := svc.Sweep(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	store.AssertNotCalled(t, "SetDeadLetterTerminal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveAndIgnore(t *testing.T) {
	store := &mockDeadLetterStore{}
	svc := newDeadLetterFixture(store)
	ctx := context.Background()

	store.On("GetDeadLetter", ctx, int64(1)).Return(&models.DeadLetter{ID: 1}, nil).Twice()
	store.On("SetDeadLetterTerminal", ctx, int64(1), models.DeadLetterResolved, "fixed by hand").Return(nil).Once()
	store.On("SetDeadLetterTerminal", ctx, int64(1), models.DeadLetterIgnored, "noise").Return(nil).Once()

	require.NoError(t, svc.Resolve(ctx, 1, "fixed by hand"))
	require.NoError(t, svc.Ignore(ctx, 1, "noise"))
	store.AssertExpectations(t)
}

func TestResolve_UnknownIDRejected(t *testing.T) {
	store := &mockDeadLetterStore{}
	svc := newDeadLetterFixture(store)
	ctx := context.Background()

	store.On("GetDeadLetter", ctx, int64(404)).Return(nil, nil).Once()

	err := svc.Resolve(ctx, 404, "")
	assert.Error(t, err)
	store.AssertNotCalled(t, "SetDeadLetterTerminal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
