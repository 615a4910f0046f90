package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"mailroom/internal/models"
	"mailroom/pkg/mailapi/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type notifierFixture struct {
	engine *NotificationEngine
	store  *mockNotifierStore
	sender *mockSender
	sink   *mockDeadLetterSink
}

func newNotifierFixture() *notifierFixture {
	f := &notifierFixture{
		store:  &mockNotifierStore{},
		sender: &mockSender{},
		sink:   &mockDeadLetterSink{},
	}
	f.engine = NewNotificationEngine(f.store, f.sender, nil, f.sink, 50, testLogger())
	return f
}

func confirmedOrder() *models.Order {
	return &models.Order{
		ID:            5,
		CustomerEmail: "customer@example.com",
		Status:        models.OrderStatusConfirmed,
	}
}

func dueSend(kind models.SendKind, pre models.Precondition) *models.ScheduledSend {
	return &models.ScheduledSend{
		ID:           1,
		OrderID:      5,
		SendKind:     kind,
		ToAddress:    "customer@example.com",
		ScheduledAt:  time.Now().Add(-time.Minute),
		Precondition: pre,
		Status:       models.SendStatusPending,
	}
}

func TestEnqueue_DefaultsToOrderEmail(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	f.store.On("GetOrder", ctx, int64(5)).Return(confirmedOrder(), nil).Once()
	f.store.On("UpsertPendingScheduledSend", ctx, mock.MatchedBy(func(s *models.ScheduledSend) bool {
		return s.ToAddress == "customer@example.com" && s.Status == models.SendStatusPending
	})).Return(nil).Once()

	err := f.engine.Enqueue(ctx, 5, models.SendKindOrderConfirmed, "", time.Now().Add(time.Hour),
		models.Precondition{Kind: models.PreconditionStatusEquals, Expected: string(models.OrderStatusConfirmed)})
	require.NoError(t, err)
	f.store.AssertExpectations(t)
}

func TestEnqueue_UnknownOrderRejected(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	f.store.On("GetOrder", ctx, int64(99)).Return(nil, nil).Once()

	err := f.engine.Enqueue(ctx, 99, models.SendKindOrderConfirmed, "", time.Now(), models.Precondition{})
	require.Error(t, err)
	f.store.AssertNotCalled(t, "UpsertPendingScheduledSend", mock.Anything, mock.Anything)
}

func TestSweep_SendsDueItem(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	item := dueSend(models.SendKindOrderConfirmed,
		models.Precondition{Kind: models.PreconditionStatusEquals, Expected: string(models.OrderStatusConfirmed)})

	f.store.On("ListDueScheduledSends", ctx, mock.Anything, 50).Return([]*models.ScheduledSend{item}, nil).Once()
	f.store.On("GetOrder", ctx, int64(5)).Return(confirmedOrder(), nil).Once()
	f.store.On("GetCompletedSend", ctx, int64(5), models.SendKindOrderConfirmed).Return(nil, nil).Once()
	f.sender.On("SendEmail", ctx, "customer@example.com", mock.Anything, mock.Anything).
		Return(&types.SendEmailResponse{MessageID: "out-1", Status: "sent"}, nil).Once()
	f.store.On("RecordCompletedSend", ctx, int64(5), models.SendKindOrderConfirmed).Return(nil).Once()
	f.store.On("MarkScheduledSend", ctx, int64(1), models.SendStatusSent, "").Return(true, nil).Once()

	stats, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	f.store.AssertExpectations(t)
	f.sender.AssertExpectations(t)
}

func TestSweep_StalePreconditionCancels(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	// Scheduled while the order was confirmed; by fire time the order
	// was cancelled.
	item := dueSend(models.SendKindEnteringProduction,
		models.Precondition{Kind: models.PreconditionStatusEquals, Expected: string(models.OrderStatusProduction)})

	order := confirmedOrder()
	order.Status = models.OrderStatusCancelled

	f.store.On("ListDueScheduledSends", ctx, mock.Anything, 50).Return([]*models.ScheduledSend{item}, nil).Once()
	f.store.On("GetOrder", ctx, int64(5)).Return(order, nil).Once()
	f.store.On("MarkScheduledSend", ctx, int64(1), models.SendStatusCancelled, mock.MatchedBy(func(reason string) bool {
		return reason != ""
	})).Return(true, nil).Once()

	stats, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cancelled)
	f.sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertExpectations(t)
}

func TestSweep_MissingTrackingCancels(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	item := dueSend(models.SendKindTrackingAdded,
		models.Precondition{Kind: models.PreconditionFieldPresent, Field: "tracking_number"})

	order := confirmedOrder()
	order.Status = models.OrderStatusShipped
	order.TrackingNumber = nil

	f.store.On("ListDueScheduledSends", ctx, mock.Anything, 50).Return([]*models.ScheduledSend{item}, nil).Once()
	f.store.On("GetOrder", ctx, int64(5)).Return(order, nil).Once()
	f.store.On("MarkScheduledSend", ctx, int64(1), models.SendStatusCancelled, mock.Anything).Return(true, nil).Once()

	stats, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cancelled)
	f.sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweep_AlreadySentCancels(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	item := dueSend(models.SendKindOrderConfirmed,
		models.Precondition{Kind: models.PreconditionStatusEquals, Expected: string(models.OrderStatusConfirmed)})

	f.store.On("ListDueScheduledSends", ctx, mock.Anything, 50).Return([]*models.ScheduledSend{item}, nil).Once()
	f.store.On("GetOrder", ctx, int64(5)).Return(confirmedOrder(), nil).Once()
	f.store.On("GetCompletedSend", ctx, int64(5), models.SendKindOrderConfirmed).
		Return(&models.CompletedSend{OrderID: 5, SendKind: models.SendKindOrderConfirmed}, nil).Once()
	f.store.On("MarkScheduledSend", ctx, int64(1), models.SendStatusCancelled, "already sent").Return(true, nil).Once()

	stats, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cancelled)
	f.sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweep_SendFailureCaptures(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	item := dueSend(models.SendKindOrderConfirmed,
		models.Precondition{Kind: models.PreconditionStatusEquals, Expected: string(models.OrderStatusConfirmed)})

	f.store.On("ListDueScheduledSends", ctx, mock.Anything, 50).Return([]*models.ScheduledSend{item}, nil).Once()
	f.store.On("GetOrder", ctx, int64(5)).Return(confirmedOrder(), nil).Once()
	f.store.On("GetCompletedSend", ctx, int64(5), models.SendKindOrderConfirmed).Return(nil, nil).Once()
	f.sender.On("SendEmail", ctx, "customer@example.com", mock.Anything, mock.Anything).
		Return(nil, assert.AnError).Once()
	f.store.On("MarkScheduledSend", ctx, int64(1), models.SendStatusFailed, mock.Anything).Return(true, nil).Once()
	f.sink.On("Add", ctx, models.OperationEmailSend, "order:5:order_confirmed", assert.AnError, mock.Anything).Once()

	stats, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	f.store.AssertNotCalled(t, "RecordCompletedSend", mock.Anything, mock.Anything, mock.Anything)
	f.sink.AssertExpectations(t)
}

func TestRetrySendHandler_SkipsWhenAlreadyCompleted(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	payload, err := json.Marshal(replaySendPayload{
		ScheduledSendID: 1, OrderID: 5, SendKind: models.SendKindOrderConfirmed, ToAddress: "customer@example.com",
	})
	require.NoError(t, err)

	f.store.On("GetCompletedSend", ctx, int64(5), models.SendKindOrderConfirmed).
		Return(&models.CompletedSend{OrderID: 5}, nil).Once()

	handler := f.engine.RetrySendHandler()
	require.NoError(t, handler(ctx, &models.DeadLetter{Payload: payload}))
	f.sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRetrySendHandler_ResendsAndRecords(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	payload, err := json.Marshal(replaySendPayload{
		ScheduledSendID: 1, OrderID: 5, SendKind: models.SendKindOrderConfirmed, ToAddress: "customer@example.com",
	})
	require.NoError(t, err)

	f.store.On("GetCompletedSend", ctx, int64(5), models.SendKindOrderConfirmed).Return(nil, nil).Once()
	f.store.On("GetOrder", ctx, int64(5)).Return(confirmedOrder(), nil).Once()
	f.store.On("GetScheduledSend", ctx, int64(1)).Return(dueSend(models.SendKindOrderConfirmed,
		models.Precondition{Kind: models.PreconditionStatusEquals, Expected: string(models.OrderStatusConfirmed)}), nil).Once()
	f.sender.On("SendEmail", ctx, "customer@example.com", mock.Anything, mock.Anything).
		Return(&types.SendEmailResponse{Status: "sent"}, nil).Once()
	f.store.On("RecordCompletedSend", ctx, int64(5), models.SendKindOrderConfirmed).Return(nil).Once()

	handler := f.engine.RetrySendHandler()
	require.NoError(t, handler(ctx, &models.DeadLetter{Payload: payload}))
	f.store.AssertExpectations(t)
	f.sender.AssertExpectations(t)
}

func TestRetrySendHandler_StalePreconditionDropsSend(t *testing.T) {
	f := newNotifierFixture()
	ctx := context.Background()

	// Captured while the order was heading into production; by the time
	// the retry sweep replays it, the order has been cancelled.
	payload, err := json.Marshal(replaySendPayload{
		ScheduledSendID: 1, OrderID: 5, SendKind: models.SendKindEnteringProduction, ToAddress: "customer@example.com",
	})
	require.NoError(t, err)

	order := confirmedOrder()
	order.Status = models.OrderStatusCancelled

	f.store.On("GetCompletedSend", ctx, int64(5), models.SendKindEnteringProduction).Return(nil, nil).Once()
	f.store.On("GetOrder", ctx, int64(5)).Return(order, nil).Once()
	f.store.On("GetScheduledSend", ctx, int64(1)).Return(dueSend(models.SendKindEnteringProduction,
		models.Precondition{Kind: models.PreconditionStatusEquals, Expected: string(models.OrderStatusProduction)}), nil).Once()

	handler := f.engine.RetrySendHandler()
	require.NoError(t, handler(ctx, &models.DeadLetter{Payload: payload}))
	f.sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "RecordCompletedSend", mock.Anything, mock.Anything, mock.Anything)
}

func TestDefaultRenderer_CoversAllKinds(t *testing.T) {
	tracking := "TRK-1"
	order := &models.Order{ID: 5, TrackingNumber: &tracking}

	for _, kind := range []models.SendKind{
		models.SendKindOrderConfirmed,
		models.SendKindEnteringProduction,
		models.SendKindTrackingAdded,
	} {
		subject, body, err := defaultRenderer{}.Render(kind, order)
		require.NoError(t, err)
		assert.NotEmpty(t, subject)
		assert.NotEmpty(t, body)
	}

	_, _, err := defaultRenderer{}.Render("unknown", order)
	assert.Error(t, err)
}
