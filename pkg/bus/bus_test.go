package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAssignsIncreasingSequence(t *testing.T) {
	b := New()
	b.Subscribe("trader", TypeSignal)

	for i := 0; i < 5; i++ {
		err := b.Publish(Message{Type: TypeSignal, From: "reader"})
		require.NoError(t, err)
	}

	msgs := b.Receive("trader", 0)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq, "sequence must be strictly increasing")
	}
}

func TestPublishNeverEchoesToSender(t *testing.T) {
	b := New()
	b.Subscribe("reader", TypeSignal)
	b.Subscribe("trader", TypeSignal)

	require.NoError(t, b.Publish(Message{Type: TypeSignal, From: "reader"}))

	assert.Empty(t, b.Receive("reader", 0), "sender must not receive its own message")
	assert.Len(t, b.Receive("trader", 0), 1)
}

func TestPublishFiltersByTypeAndDestination(t *testing.T) {
	b := New()
	b.Subscribe("trader", TypeSignal, TypeApproval)
	b.Subscribe("guardian", TypeTradeRequest)

	require.NoError(t, b.Publish(Message{Type: TypeSignal, From: "reader"}))
	require.NoError(t, b.Publish(Message{Type: TypeTradeRequest, From: "trader", To: "guardian"}))
	require.NoError(t, b.Publish(Message{Type: TypeApproval, From: "guardian", To: "optimizer"}))

	got := b.Receive("trader", 0)
	require.Len(t, got, 1)
	assert.Equal(t, TypeSignal, got[0].Type)

	got = b.Receive("guardian", 0)
	require.Len(t, got, 1)
	assert.Equal(t, TypeTradeRequest, got[0].Type)
}

func TestPublishRejectsMissingType(t *testing.T) {
	b := New()
	assert.ErrorIs(t, b.Publish(Message{From: "reader"}), ErrMissingType)
}

func TestPublishWithoutSubscribersIsNotAnError(t *testing.T) {
	b := New()
	assert.NoError(t, b.Publish(Message{Type: TypeStatus, From: "reader"}))
}

func TestSubscribeReplacesFilter(t *testing.T) {
	b := New()
	b.Subscribe("trader", TypeSignal)
	b.Subscribe("trader", TypeApproval)

	require.NoError(t, b.Publish(Message{Type: TypeSignal, From: "reader"}))
	require.NoError(t, b.Publish(Message{Type: TypeApproval, From: "guardian"}))

	got := b.Receive("trader", 0)
	require.Len(t, got, 1)
	assert.Equal(t, TypeApproval, got[0].Type)
}

func TestReceiveTimeoutReturnsEmpty(t *testing.T) {
	b := New()
	b.Subscribe("trader", TypeSignal)

	start := time.Now()
	msgs := b.Receive("trader", 50*time.Millisecond)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestReceiveWakesOnPublish(t *testing.T) {
	b := New()
	b.Subscribe("trader", TypeSignal)

	var wg sync.WaitGroup
	wg.Add(1)
	var got []Message
	go func() {
		defer wg.Done()
		got = b.Receive("trader", 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Publish(Message{Type: TypeSignal, From: "reader"}))
	wg.Wait()

	require.Len(t, got, 1)
	assert.Equal(t, TypeSignal, got[0].Type)
}

func TestHistoryMostRecentFirst(t *testing.T) {
	b := New(WithHistorySize(3))
	b.Subscribe("trader", TypeSignal)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(Message{Type: TypeSignal, From: "reader", Payload: i}))
	}

	got := b.History(0, "")
	require.Len(t, got, 3, "history is bounded, oldest dropped")
	assert.Equal(t, 4, got[0].Payload)
	assert.Equal(t, 3, got[1].Payload)
	assert.Equal(t, 2, got[2].Payload)
}

func TestHistoryTypeFilterAndLimit(t *testing.T) {
	b := New()
	require.NoError(t, b.Publish(Message{Type: TypeSignal, From: "reader"}))
	require.NoError(t, b.Publish(Message{Type: TypeStatus, From: "guardian"}))
	require.NoError(t, b.Publish(Message{Type: TypeSignal, From: "reader"}))

	got := b.History(0, TypeSignal)
	assert.Len(t, got, 2)

	got = b.History(1, TypeSignal)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].Seq)
}
