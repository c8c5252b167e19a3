package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/mcphost/internal/common/logger"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	b := NewMemoryEventBus(log)
	t.Cleanup(b.Close)
	return b
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	b := newTestBus(t)
	received := make(chan *Event, 1)

	sub, err := b.Subscribe("agent.lifecycle.started", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("started", "mcphost", map[string]any{"pid": 42})
	require.NoError(t, b.Publish(context.Background(), "agent.lifecycle.started", event))

	select {
	case e := <-received:
		assert.Equal(t, event.ID, e.ID)
		assert.Equal(t, 42, e.Data["pid"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestMemoryEventBus_PreservesOrderPerSubscriber(t *testing.T) {
	b := newTestBus(t)
	got := make(chan string, 10)

	_, err := b.Subscribe("agent.lifecycle.>", func(ctx context.Context, e *Event) error {
		time.Sleep(time.Millisecond)
		got <- e.Type
		return nil
	})
	require.NoError(t, err)

	want := []string{"starting", "started", "stopping", "stopped"}
	for _, typ := range want {
		require.NoError(t, b.Publish(context.Background(), "agent.lifecycle."+typ, NewEvent(typ, "test", nil)))
	}

	for _, typ := range want {
		select {
		case e := <-got:
			assert.Equal(t, typ, e)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", typ)
		}
	}
}

func TestMemoryEventBus_Wildcards(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		match   bool
	}{
		{"agent.lifecycle.*", "agent.lifecycle.started", true},
		{"agent.lifecycle.*", "agent.lifecycle.started.extra", false},
		{"agent.>", "agent.lifecycle.started", true},
		{"agent.lifecycle.started", "agent.lifecycle.started", true},
		{"agent.lifecycle.started", "agent.lifecycle.stopped", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.match, matches(tt.subject, tt.pattern, compilePattern(tt.pattern)))
		})
	}
}

func TestMemoryEventBus_UnsubscribeAndClose(t *testing.T) {
	b := newTestBus(t)
	sub, err := b.Subscribe("x", func(ctx context.Context, e *Event) error { return nil })
	require.NoError(t, err)
	assert.True(t, sub.IsValid())

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	b.Close()
	assert.False(t, b.IsConnected())
	assert.Error(t, b.Publish(context.Background(), "x", NewEvent("t", "s", nil)))
	_, err = b.Subscribe("x", nil)
	assert.Error(t, err)
}
