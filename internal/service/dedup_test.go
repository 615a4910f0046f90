package service

import (
	"context"
	"testing"
	"time"

	"mailroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testMessage() *models.ExternalMessage {
	return &models.ExternalMessage{
		ProviderMessageID: "prov-1",
		RFCMessageID:      "<abc@mail.example.com>",
		From:              "customer@example.com",
		To:                []string{"shop@example.com"},
		Subject:           "Question about my order",
		BodyText:          "Hello",
		ReceivedAt:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDedupEngine_ProviderIDMatch(t *testing.T) {
	store := &mockDedupStore{}
	engine := NewDedupEngine(store, 5*time.Second, testLogger())
	ctx := context.Background()
	msg := testMessage()

	store.On("GetCommunicationByProviderMessageID", ctx, "prov-1").
		Return(&models.Communication{ID: 42}, nil).Once()

	result, err := engine.Check(ctx, msg)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, StrategyProviderMessageID, result.Strategy)
	assert.Equal(t, int64(42), result.ExistingID)

	// Lower-trust strategies must not have been consulted.
	store.AssertNotCalled(t, "GetCommunicationByRFCMessageID", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "FindCommunicationByFingerprint", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestDedupEngine_RFCFallback(t *testing.T) {
	store := &mockDedupStore{}
	engine := NewDedupEngine(store, 5*time.Second, testLogger())
	ctx := context.Background()

	// Re-delivery through a different path carries a fresh provider id
	// but the same RFC Message-ID.
	msg := testMessage()
	msg.ProviderMessageID = "prov-2"

	store.On("GetCommunicationByProviderMessageID", ctx, "prov-2").Return(nil, nil).Once()
	store.On("GetCommunicationByRFCMessageID", ctx, msg.RFCMessageID).
		Return(&models.Communication{ID: 7}, nil).Once()

	result, err := engine.Check(ctx, msg)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, StrategyRFCMessageID, result.Strategy)
	store.AssertExpectations(t)
}

func TestDedupEngine_FingerprintFallback(t *testing.T) {
	store := &mockDedupStore{}
	engine := NewDedupEngine(store, 5*time.Second, testLogger())
	ctx := context.Background()

	msg := testMessage()
	msg.ProviderMessageID = ""
	msg.RFCMessageID = ""

	store.On("FindCommunicationByFingerprint", ctx, msg.From, msg.Subject, msg.ReceivedAt, 5*time.Second).
		Return(&models.Communication{ID: 3}, nil).Once()

	result, err := engine.Check(ctx, msg)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, StrategyFingerprint, result.Strategy)

	// Messages without identifiers never hit the id-based strategies.
	store.AssertNotCalled(t, "GetCommunicationByProviderMessageID", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "GetCommunicationByRFCMessageID", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestDedupEngine_NoMatch(t *testing.T) {
	store := &mockDedupStore{}
	engine := NewDedupEngine(store, 5*time.Second, testLogger())
	ctx := context.Background()
	msg := testMessage()

	store.On("GetCommunicationByProviderMessageID", ctx, msg.ProviderMessageID).Return(nil, nil).Once()
	store.On("GetCommunicationByRFCMessageID", ctx, msg.RFCMessageID).Return(nil, nil).Once()
	store.On("FindCommunicationByFingerprint", ctx, msg.From, msg.Subject, msg.ReceivedAt, 5*time.Second).
		Return(nil, nil).Once()

	result, err := engine.Check(ctx, msg)
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	store.AssertExpectations(t)
}

func TestDedupEngine_StrategyErrorFallsThrough(t *testing.T) {
	store := &mockDedupStore{}
	engine := NewDedupEngine(store, 5*time.Second, testLogger())
	ctx := context.Background()
	msg := testMessage()

	store.On("GetCommunicationByProviderMessageID", ctx, msg.ProviderMessageID).
		Return(nil, assert.AnError).Once()
	store.On("GetCommunicationByRFCMessageID", ctx, msg.RFCMessageID).
		Return(&models.Communication{ID: 11}, nil).Once()

	result, err := engine.Check(ctx, msg)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, StrategyRFCMessageID, result.Strategy)
	store.AssertExpectations(t)
}
