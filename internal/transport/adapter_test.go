package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAdapter(t *testing.T) *Adapter {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	a := New(rdb)
	t.Cleanup(a.Cleanup)
	return a
}

func TestChannelRegistryReturnsSameHandle(t *testing.T) {
	a := setupAdapter(t)

	ch1 := a.Channel("user:u1:notifications")
	ch2 := a.Channel("user:u1:notifications")
	other := a.Channel("user:u2:notifications")

	assert.Same(t, ch1, ch2)
	assert.NotSame(t, ch1, other)
}

func TestPublishStampsEnvelope(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	received := make(chan Envelope, 1)
	ch := a.Channel("job:j1")
	unsub, err := ch.Subscribe(ctx, "job_status_changed", func(env Envelope) {
		received <- env
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, ch.Publish(ctx, "job_status_changed", map[string]string{"status": "in_progress"}))

	select {
	case env := <-received:
		assert.Equal(t, "job_status_changed", env.Event)
		assert.NotEmpty(t, env.MessageID)
		ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), ts, 5*time.Second)

		var data map[string]string
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "in_progress", data["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestSubscribeFiltersByEvent(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	ch := a.Channel("conversation:a:b")
	got := make(chan string, 2)
	unsub, err := ch.Subscribe(ctx, "message_sent", func(env Envelope) {
		got <- env.Event
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, ch.Publish(ctx, "messages_read", map[string]string{"readBy": "a"}))
	require.NoError(t, ch.Publish(ctx, "message_sent", map[string]string{"content": "hi"}))

	select {
	case event := <-got:
		// the messages_read publish must have been filtered out
		assert.Equal(t, "message_sent", event)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	assert.Empty(t, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	ch := a.Channel("user:u1:notifications")
	got := make(chan Envelope, 4)
	unsub, err := ch.Subscribe(ctx, "notification_sent", func(env Envelope) {
		got <- env
	})
	require.NoError(t, err)

	require.NoError(t, ch.Publish(ctx, "notification_sent", map[string]string{"n": "1"}))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first event")
	}

	unsub()
	require.NoError(t, ch.Publish(ctx, "notification_sent", map[string]string{"n": "2"}))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, got)
}

func TestPresenceLifecycle(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	ch := a.Channel("conversation:a:b")

	require.NoError(t, ch.Enter(ctx, "user-a", map[string]bool{"typing": false}))
	require.NoError(t, ch.Enter(ctx, "user-b", map[string]bool{"typing": true}))

	members, err := ch.PresenceList(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Contains(t, members, "user-a")

	require.NoError(t, ch.Leave(ctx, "user-b"))
	members, err = ch.PresenceList(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.NotContains(t, members, "user-b")
}

func TestCleanupEmptiesRegistry(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	ch := a.Channel("job:j1")
	_, err := ch.Subscribe(ctx, "job_status_changed", func(Envelope) {})
	require.NoError(t, err)

	a.Cleanup()

	// a fresh handle is created after cleanup
	assert.NotSame(t, ch, a.Channel("job:j1"))
}
