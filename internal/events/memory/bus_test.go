package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishWithoutSubscriptionIsDiscarded(t *testing.T) {
	bus := NewBus(4, nil)

	require.NoError(t, bus.Publish(context.Background(), "orphan", "k", map[string]int{"a": 1}))
	assert.Zero(t, bus.Pending("orphan"))
}

func TestSubscriptionReceivesInOrder(t *testing.T) {
	bus := NewBus(4, nil)
	sub := bus.Subscribe("items")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, "items", "u1", map[string]int{"n": i}))
	}
	assert.Equal(t, 3, bus.Pending("items"))

	var got []int
	err := sub.Drain(ctx, func(ctx context.Context, msg interfaces.Message) error {
		var v map[string]int
		require.NoError(t, json.Unmarshal(msg.Value, &v))
		assert.Equal(t, "u1", msg.Key)
		got = append(got, v["n"])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestConsumeStopsWithContext(t *testing.T) {
	bus := NewBus(1, nil)
	sub := bus.Subscribe("items")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	seen := make(chan struct{}, 1)
	go func() {
		done <- sub.Consume(ctx, func(ctx context.Context, msg interfaces.Message) error {
			seen <- struct{}{}
			return assert.AnError
		})
	}()

	require.NoError(t, bus.Publish(ctx, "items", "u1", "x"))
	select {
	case <-seen:
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestPublishBlocksUntilContextEndsWhenFull(t *testing.T) {
	bus := NewBus(1, nil)
	bus.Subscribe("items")

	require.NoError(t, bus.Publish(context.Background(), "items", "u1", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(ctx, "items", "u1", "second"), context.DeadlineExceeded)
}
