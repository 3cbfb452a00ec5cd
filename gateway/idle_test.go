package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rigflip/models"
)

func TestCommandIdleGate(t *testing.T) {
	tests := []struct {
		command string
		want    models.Activity
	}{
		{"echo 5000", models.ActivityActive},
		{"echo 90000", models.ActivityIdle},
		{"echo 60000", models.ActivityIdle},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			gate, err := NewCommandIdleGate(tt.command)
			require.NoError(t, err)

			got, err := gate.QueryActivity(context.Background(), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandIdleGateErrors(t *testing.T) {
	_, err := NewCommandIdleGate("  ")
	assert.Error(t, err)

	gate, err := NewCommandIdleGate("echo not-a-number")
	require.NoError(t, err)
	_, err = gate.QueryActivity(context.Background(), time.Minute)
	assert.Error(t, err)

	missing, err := NewCommandIdleGate("rigflip-no-such-binary")
	require.NoError(t, err)
	_, err = missing.QueryActivity(context.Background(), time.Minute)
	assert.Error(t, err)
}

func TestAlwaysIdle(t *testing.T) {
	got, err := AlwaysIdle{}.QueryActivity(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.ActivityIdle, got)
}
