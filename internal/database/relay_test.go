package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	return m.Called().Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func (m *MockOutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepository) DeadLetterCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func alertEvent(item string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "item",
		AggregateID:   item,
		EventType:     "STOCK_ALERT",
		Payload:       json.RawMessage(`{"item":"` + item + `","store":"ShopA","low_stock":false}`),
		TargetStream:  DefaultAlertStream,
		CreatedAt:     time.Now(),
	}
}

func newTestRelay(r *MockRedisClient, o *MockOutboxRepository) *Relay {
	return NewRelay(o, r, slog.Default(), RelayConfig{PollInterval: 50 * time.Millisecond, BatchSize: 10})
}

func TestRelay_ProcessEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and marks each event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		events := []*OutboxEvent{alertEvent("Widget"), alertEvent("Gadget")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == DefaultAlertStream &&
					args.Values.(map[string]any)["event_type"] == "STOCK_ALERT" &&
					args.Values.(map[string]any)["aggregate_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		require.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("redis failure marks the event failed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		event := alertEvent("Widget")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		assert.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("empty batch does not touch redis", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		require.NoError(t, relay.processEvents(ctx))
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("one failure does not stop the batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		events := []*OutboxEvent{alertEvent("Widget"), alertEvent("Gadget")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]any)["aggregate_id"] == "Widget"
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]any)["aggregate_id"] == "Gadget"
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		require.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("outbox query failure is returned", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(new(MockRedisClient), mockOutbox)

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("db down"))

		assert.ErrorContains(t, relay.processEvents(ctx), "db down")
	})
}

func TestRelay_PublishToRedis(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	relay := newTestRelay(mockRedis, new(MockOutboxRepository))

	event := alertEvent("Widget")

	var captured *redis.XAddArgs
	mockRedis.On("XAdd", ctx, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*redis.XAddArgs)
	}).Return(nil)

	require.NoError(t, relay.publishToRedis(ctx, event))
	require.NotNil(t, captured)

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(captured.Values.(map[string]any)["data"].(string)), &data))

	assert.Equal(t, event.ID.String(), data["id"])
	assert.Equal(t, "STOCK_ALERT", data["type"])
	assert.Equal(t, "item", data["aggregate_type"])
	assert.Equal(t, "Widget", data["aggregate_id"])

	payload := data["payload"].(map[string]any)
	assert.Equal(t, "ShopA", payload["store"])

	metadata := data["metadata"].(map[string]any)
	assert.Equal(t, "stock-alert-bot", metadata["source"])
	assert.Equal(t, DefaultAlertStream, metadata["target_stream"])
}

func TestRelay_PublishRejectsBadPayload(t *testing.T) {
	relay := newTestRelay(new(MockRedisClient), new(MockOutboxRepository))
	event := alertEvent("Widget")
	event.Payload = json.RawMessage(`not json`)

	assert.ErrorContains(t, relay.publishToRedis(context.Background(), event), "unmarshal payload")
}

func TestRelay_Stats(t *testing.T) {
	ctx := context.Background()
	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(new(MockRedisClient), mockOutbox)

	mockOutbox.On("PendingCount", ctx).Return(int64(3), nil)
	mockOutbox.On("DeadLetterCount", ctx).Return(int64(1), nil)

	stats, err := relay.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, RelayStats{Pending: 3, DeadLetter: 1}, stats)
}

func TestRelay_Start(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(new(MockRedisClient), mockOutbox)

	mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
