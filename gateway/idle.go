package gateway

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"rigflip/models"
)

// CommandIdleGate asks an external command how long the operator has been
// idle. The command prints milliseconds, as xprintidle does.
type CommandIdleGate struct {
	name string
	args []string
}

func NewCommandIdleGate(command string) (*CommandIdleGate, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("empty idle command")
	}
	return &CommandIdleGate{name: fields[0], args: fields[1:]}, nil
}

func (g *CommandIdleGate) QueryActivity(ctx context.Context, threshold time.Duration) (models.Activity, error) {
	out, err := exec.CommandContext(ctx, g.name, g.args...).Output()
	if err != nil {
		return "", fmt.Errorf("run %s: %w", g.name, err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse idle time %q: %w", strings.TrimSpace(string(out)), err)
	}
	if time.Duration(ms)*time.Millisecond < threshold {
		return models.ActivityActive, nil
	}
	return models.ActivityIdle, nil
}

// AlwaysIdle never pauses the scheduler. Headless hosts use it.
type AlwaysIdle struct{}

func (AlwaysIdle) QueryActivity(context.Context, time.Duration) (models.Activity, error) {
	return models.ActivityIdle, nil
}
