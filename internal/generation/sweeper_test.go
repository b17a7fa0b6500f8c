package generation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nero/internal/domain"
)

func (h *harness) sweeper(now time.Time) *Sweeper {
	return NewSweeper(h.service, SweeperOptions{
		MinAge:      time.Minute,
		TaskTTL:     24 * time.Hour,
		Concurrency: 3,
		Now:         func() time.Time { return now },
		Logger:      zerolog.Nop(),
	})
}

func TestSweeperSettlesStaleTasks(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.submit(t, "alice")
	}
	h.provider.set(domain.Succeeded("https://cdn.example/out.png"), nil)

	stats, err := h.sweeper(h.now.Add(5 * time.Minute)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Checked: 5, Settled: 5}, stats)
	assert.Equal(t, int32(5), h.fetcher.calls.Load())

	balance, _ := h.service.Balance(context.Background(), "alice")
	assert.Equal(t, int64(0), balance)

	stats, err = h.sweeper(h.now.Add(10 * time.Minute)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Checked)
}

func TestSweeperSkipsYoungTasks(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "alice")

	stats, err := h.sweeper(h.now.Add(10 * time.Second)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Checked)
	assert.Zero(t, h.provider.statusCalls.Load())
}

func TestSweeperLeavesRunningTasks(t *testing.T) {
	h := newHarness(t)
	task := h.submit(t, "alice")

	stats, err := h.sweeper(h.now.Add(5 * time.Minute)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Checked: 1}, stats)

	stored, err := h.service.Task(context.Background(), task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, stored.Status)
}

func TestSweeperSurvivesProviderOutage(t *testing.T) {
	h := newHarness(t)
	task := h.submit(t, "alice")
	h.provider.set(domain.Outcome{}, fmt.Errorf("%w: 503", domain.ErrProviderUnavailable))

	stats, err := h.sweeper(h.now.Add(5 * time.Minute)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Checked: 1}, stats)

	stored, _ := h.service.Task(context.Background(), task.ID, "alice")
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
}

func TestSweeperExpiresTasksPastTTL(t *testing.T) {
	h := newHarness(t)
	task := h.submit(t, "alice")

	stats, err := h.sweeper(h.now.Add(25 * time.Hour)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Checked: 1, Expired: 1}, stats)
	assert.Zero(t, h.provider.statusCalls.Load())

	stored, _ := h.service.Task(context.Background(), task.ID, "alice")
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, "expired: no provider result within 24h0m0s", stored.ErrorDetail)

	img, err := h.store.Images().GetByTaskID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImageStatusFailed, img.Status)
	balance, _ := h.service.Balance(context.Background(), "alice")
	assert.Equal(t, int64(5), balance)
}
