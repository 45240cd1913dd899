package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"ordersaga/domain/event"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestEventHeaders(t *testing.T) {
	env := event.NewEnvelope(event.PaymentRequestedType, "order-1", "corr-1", "cause-1")
	headers := eventHeaders(&env)

	assert.Equal(t, "payment.requested", headers["event_type"])
	assert.Equal(t, env.EventID, headers["event_id"])
	assert.Equal(t, "corr-1", headers["correlation_id"])
	assert.Equal(t, int32(1), headers["version"])
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 4*time.Second, retryDelay(2))
	assert.Equal(t, 8*time.Second, retryDelay(3))
	assert.Equal(t, 32*time.Second, retryDelay(5))
}

func TestRetryDelayCapped(t *testing.T) {
	assert.Equal(t, maxRetryDelay, retryDelay(6))
	assert.Equal(t, maxRetryDelay, retryDelay(10))
	// Large shift counts overflow the duration; the cap must still hold.
	assert.Equal(t, maxRetryDelay, retryDelay(64))
}

func TestHeaderInt(t *testing.T) {
	assert.Equal(t, 0, headerInt(nil, retryCountHeader))
	assert.Equal(t, 0, headerInt(amqp091.Table{}, retryCountHeader))
	assert.Equal(t, 0, headerInt(amqp091.Table{retryCountHeader: "2"}, retryCountHeader))

	assert.Equal(t, 3, headerInt(amqp091.Table{retryCountHeader: 3}, retryCountHeader))
	assert.Equal(t, 3, headerInt(amqp091.Table{retryCountHeader: int32(3)}, retryCountHeader))
	assert.Equal(t, 3, headerInt(amqp091.Table{retryCountHeader: int64(3)}, retryCountHeader))
	assert.Equal(t, 3, headerInt(amqp091.Table{retryCountHeader: int8(3)}, retryCountHeader))
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Minute))
}

func TestSleepElapsed(t *testing.T) {
	assert.True(t, sleep(context.Background(), time.Millisecond))
}

func TestPublishNotConnected(t *testing.T) {
	bus := NewEventBus("amqp://localhost", testLogger())
	err := bus.publish(context.Background(), "order.placed", []byte("{}"), nil)
	assert.Error(t, err)
}

func TestSubscribeNotConnected(t *testing.T) {
	bus := NewEventBus("amqp://localhost", testLogger())
	err := bus.Subscribe(context.Background(), "order.*", "q", nil, 3)
	assert.Error(t, err)
}

func TestDrainDLQNotConnected(t *testing.T) {
	bus := NewEventBus("amqp://localhost", testLogger())
	_, err := bus.DrainDLQ(10)
	assert.Error(t, err)
}
