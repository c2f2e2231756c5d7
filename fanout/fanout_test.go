package fanout

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/adwski/chat-relay/model"
)

func newTestFanout(capacity int) *Fanout {
	logger := zerolog.Nop()
	return New(&logger, capacity)
}

func recvOne(t *testing.T, sub *Subscription) *model.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	f := newTestFanout(0)
	one := f.Subscribe()
	two := f.Subscribe()

	msg := model.NewText("room1", "alice", "hello world")
	require.NoError(t, f.Publish(&msg))

	require.Equal(t, &msg, recvOne(t, one))
	require.Equal(t, &msg, recvOne(t, two))

	// Exactly one copy each.
	require.Empty(t, one.C())
	require.Empty(t, two.C())
}

func TestPerSubscriberFIFO(t *testing.T) {
	f := newTestFanout(0)
	one := f.Subscribe()
	two := f.Subscribe()

	var sent []*model.Message
	for i := 0; i < 10; i++ {
		msg := model.NewText("room1", "alice", fmt.Sprintf("msg-%d", i))
		sent = append(sent, &msg)
		require.NoError(t, f.Publish(&msg))
	}

	for _, sub := range []*Subscription{one, two} {
		for i, want := range sent {
			got := recvOne(t, sub)
			require.Equal(t, want, got, "message %d out of order", i)
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	f := newTestFanout(0)
	msg := model.NewJoin("room1", "alice")
	require.ErrorIs(t, f.Publish(&msg), ErrNoSubscribers)

	sub := f.Subscribe()
	require.NoError(t, f.Publish(&msg))
	sub.Close()
	require.ErrorIs(t, f.Publish(&msg), ErrNoSubscribers)
}

func TestSlowSubscriberDropsAlone(t *testing.T) {
	f := newTestFanout(2)
	slow := f.Subscribe()
	fast := f.Subscribe()

	var sent []*model.Message
	for i := 0; i < 5; i++ {
		msg := model.NewText("room1", "alice", fmt.Sprintf("msg-%d", i))
		sent = append(sent, &msg)
		require.NoError(t, f.Publish(&msg))
		// Keep fast drained so only slow saturates.
		require.Equal(t, &msg, recvOne(t, fast))
	}

	// Slow kept the first two, dropped the remaining three.
	require.Equal(t, sent[0], recvOne(t, slow))
	require.Equal(t, sent[1], recvOne(t, slow))
	require.Empty(t, slow.C())
	require.EqualValues(t, 3, slow.Missed())

	// The gap is reported once.
	require.Zero(t, slow.Missed())
	require.Zero(t, fast.Missed())
}

func TestCloseStopsDelivery(t *testing.T) {
	f := newTestFanout(0)
	sub := f.Subscribe()
	other := f.Subscribe()

	sub.Close()
	require.Equal(t, 1, f.Subscribers())

	msg := model.NewText("room1", "alice", "hi")
	require.NoError(t, f.Publish(&msg))
	require.Equal(t, &msg, recvOne(t, other))

	_, ok := <-sub.C()
	require.False(t, ok, "closed subscription channel still open")

	sub.Close() // repeated close is a no-op
	require.Equal(t, 1, f.Subscribers())
}

func TestSubscriberCount(t *testing.T) {
	f := newTestFanout(0)
	require.Zero(t, f.Subscribers())

	subs := make([]*Subscription, 0, 3)
	for i := 0; i < 3; i++ {
		subs = append(subs, f.Subscribe())
	}
	require.Equal(t, 3, f.Subscribers())

	for _, s := range subs {
		s.Close()
	}
	require.Zero(t, f.Subscribers())
}

func TestConcurrentPublishersKeepPerPublisherOrder(t *testing.T) {
	f := newTestFanout(1024)
	sub := f.Subscribe()

	const publishers = 4
	const perPublisher = 50
	done := make(chan struct{})
	for p := 0; p < publishers; p++ {
		go func(p int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < perPublisher; i++ {
				msg := model.NewText("room1", fmt.Sprintf("user%d", p), fmt.Sprintf("%d", i))
				_ = f.Publish(&msg)
			}
		}(p)
	}
	for p := 0; p < publishers; p++ {
		<-done
	}

	lastSeen := map[string]int{}
	for i := 0; i < publishers*perPublisher; i++ {
		msg := recvOne(t, sub)
		var seq int
		_, err := fmt.Sscanf(msg.Data.Text, "%d", &seq)
		require.NoError(t, err)
		if prev, ok := lastSeen[msg.Username]; ok {
			require.Greater(t, seq, prev, "publisher %s out of order", msg.Username)
		}
		lastSeen[msg.Username] = seq
	}
	require.Zero(t, sub.Missed())
}
