package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rigflip/models"
)

type fakeCommands struct {
	mu        sync.Mutex
	pending   []models.Command
	processed []int64
}

func (c *fakeCommands) add(id int64, cmd models.CommandType, params models.CommandParams) {
	raw, _ := json.Marshal(params)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, models.Command{ID: id, Command: cmd, Params: raw})
}

func (c *fakeCommands) GetPendingCommands() ([]models.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out, nil
}

func (c *fakeCommands) MarkCommandProcessed(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed = append(c.processed, id)
	return nil
}

func (c *fakeCommands) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	var p models.CommandParams
	if len(cmd.Params) == 0 {
		return &p, nil
	}
	err := json.Unmarshal(cmd.Params, &p)
	return &p, err
}

type fakeArchiver struct {
	mu   sync.Mutex
	days []int
}

func (a *fakeArchiver) ArchiveOldDeals(ctx context.Context, daysOld int) (int, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.days = append(a.days, daysOld)
	return 1, nil
}

type countingTrigger struct {
	mu sync.Mutex
	n  int
}

func (c *countingTrigger) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestScheduler(t, Config{MaxConcurrentTabs: 1, JobTimeout: time.Minute}, 3)
	cmds := &fakeCommands{}
	archiver := &fakeArchiver{}
	save, refresh := &countingTrigger{}, &countingTrigger{}

	tr := NewTrigger(TriggerConfig{ArchiveAfterDays: 30}, s, cmds)
	tr.SetArchiver(archiver)
	tr.SetWorkers(save, refresh)

	raw, _ := json.Marshal(models.CommandParams{SearchIDs: []string{"search-2"}})
	require.NoError(t, tr.HandleCommand(ctx, &models.Command{Command: models.CmdScanNow, Params: raw}))
	st := s.GetStatus()
	require.True(t, st.Running)
	require.Len(t, st.Session.Jobs, 1)
	assert.Equal(t, "search-2", st.Session.Jobs[0].SearchID)

	assert.ErrorIs(t, tr.HandleCommand(ctx, &models.Command{Command: models.CmdScanNow}), ErrAlreadyRunning)

	require.NoError(t, tr.HandleCommand(ctx, &models.Command{Command: models.CmdPause}))
	assert.True(t, s.GetStatus().Paused)
	require.NoError(t, tr.HandleCommand(ctx, &models.Command{Command: models.CmdResume}))
	assert.False(t, s.GetStatus().Paused)

	require.NoError(t, tr.HandleCommand(ctx, &models.Command{Command: models.CmdScanStop}))
	assert.False(t, s.GetStatus().Running)

	require.NoError(t, tr.HandleCommand(ctx, &models.Command{Command: models.CmdArchiveOld}))
	raw, _ = json.Marshal(models.CommandParams{Days: 7})
	require.NoError(t, tr.HandleCommand(ctx, &models.Command{Command: models.CmdArchiveOld, Params: raw}))
	assert.Equal(t, []int{30, 7}, archiver.days)

	require.NoError(t, tr.HandleCommand(ctx, &models.Command{Command: models.CmdSaveNow}))
	require.NoError(t, tr.HandleCommand(ctx, &models.Command{Command: models.CmdRefresh}))
	assert.Equal(t, 1, save.n)
	assert.Equal(t, 1, refresh.n)

	assert.Error(t, tr.HandleCommand(ctx, &models.Command{Command: "reboot"}))
}

func TestDrainCommandsMarksEveryCommand(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestScheduler(t, Config{MaxConcurrentTabs: 1, JobTimeout: time.Minute}, 1)
	cmds := &fakeCommands{}
	cmds.add(1, models.CmdScanNow, models.CommandParams{})
	cmds.add(2, "bogus", models.CommandParams{})
	cmds.add(3, models.CmdScanStop, models.CommandParams{})

	tr := NewTrigger(TriggerConfig{}, s, cmds)
	tr.drainCommands(ctx)

	assert.Equal(t, []int64{1, 2, 3}, cmds.processed)
	assert.False(t, s.GetStatus().Running)
	assert.Len(t, s.History(), 1)
}

func TestTriggerStartRejectsBadCron(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{}, 1)
	tr := NewTrigger(TriggerConfig{Cron: "every tuesday"}, s, nil)
	assert.Error(t, tr.Start(context.Background()))
}

func TestTriggerInterval(t *testing.T) {
	s, _, rec := newTestScheduler(t, Config{MaxConcurrentTabs: 1, JobTimeout: time.Minute}, 1)
	tr := NewTrigger(TriggerConfig{Interval: 20 * time.Millisecond}, s, nil)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	assert.Eventually(t, func() bool { return rec.count(EventSessionStarted) == 1 }, time.Second, 5*time.Millisecond)
	// Later ticks are skipped while the session runs.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.count(EventSessionStarted))
}
