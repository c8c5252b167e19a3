package lifecycle

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/mcphost/internal/common/config"
)

func TestReconcile_AutoStartsStoppedAgent(t *testing.T) {
	h := setupManager(t)
	r := NewReconciler(h.manager, h.cfg, testLogger(t))

	r.Reconcile(context.Background())

	assert.True(t, h.manager.IsRunning())
	h.events.waitFor(t, EventStarted, 1)
	h.events.mu.Lock()
	assert.Equal(t, TriggerConfig, h.events.events[0].Trigger)
	h.events.mu.Unlock()
}

func TestReconcile_NoAutoStart(t *testing.T) {
	h := setupManager(t, withConfig(func(c *config.Config) {
		c.Agent.AutoStart = false
	}))
	r := NewReconciler(h.manager, h.cfg, testLogger(t))

	r.Reconcile(context.Background())

	assert.Equal(t, StateStopped, h.manager.Status().State)
	assert.Zero(t, h.spawner.count.Load())
}

func TestReconcile_RestartsOnLaunchChange(t *testing.T) {
	h := setupManager(t, withConfig(func(c *config.Config) {
		c.Agent.RestartOnChange = true
	}))
	r := NewReconciler(h.manager, h.cfg, testLogger(t))
	ctx := context.Background()

	require.NoError(t, h.manager.Start(ctx))
	firstPID := h.manager.Status().PID

	// Unchanged launch settings leave the agent alone.
	h.cfg.Update(func(c *config.Config) { c.Agent.Notify = false })
	r.Reconcile(ctx)
	assert.Equal(t, firstPID, h.manager.Status().PID)
	assert.Equal(t, int32(1), h.spawner.count.Load())

	h.cfg.Update(func(c *config.Config) { c.Agent.ExtraTools = []string{"fleet"} })
	r.Reconcile(ctx)

	st := h.manager.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.NotEqual(t, firstPID, st.PID)
	assert.Equal(t, int32(2), h.spawner.count.Load())

	assert.Contains(t, readArgs(t, h), "fleet")
}

func TestReconcile_WithoutRestartOnChangeKeepsRunningAgent(t *testing.T) {
	h := setupManager(t)
	r := NewReconciler(h.manager, h.cfg, testLogger(t))
	ctx := context.Background()

	require.NoError(t, h.manager.Start(ctx))
	pid := h.manager.Status().PID

	h.cfg.Update(func(c *config.Config) { c.Agent.AccessLevel = config.AccessAdmin })
	r.Reconcile(ctx)

	assert.Equal(t, pid, h.manager.Status().PID)
	assert.Equal(t, int32(1), h.spawner.count.Load())
}

func TestReconcile_InvalidConfigIsIgnored(t *testing.T) {
	h := setupManager(t)
	r := NewReconciler(h.manager, h.cfg, testLogger(t))

	h.cfg.Update(func(c *config.Config) { c.Agent.AccessLevel = "root" })
	r.Reconcile(context.Background())

	assert.Equal(t, StateStopped, h.manager.Status().State)
	assert.Zero(t, h.spawner.count.Load())
}

func TestReconciler_RunCoalescesNotifications(t *testing.T) {
	h := setupManager(t)
	r := NewReconciler(h.manager, h.cfg, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	for range 5 {
		r.Notify()
	}
	require.Eventually(t, h.manager.IsRunning, 15*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not stop")
	}
	assert.Equal(t, int32(1), h.spawner.count.Load())
}

func readArgs(t *testing.T, h *harness) []string {
	t.Helper()
	raw, err := os.ReadFile(h.argsFile)
	require.NoError(t, err)
	return splitArgs(raw)
}
