package launcher

import (
	"fmt"
	"testing"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_InitialState(t *testing.T) {
	sm := newStateMachine("web", 0, logging.Nop())

	current := sm.Current()
	assert.Equal(t, StatusStopped, current.Status)
	assert.Empty(t, current.Message)
	assert.False(t, current.LastCheck.IsZero())
	assert.Empty(t, sm.History())
}

func TestStateMachine_Transitions(t *testing.T) {
	testCases := []struct {
		name  string
		path  []Status
		to    Status
		valid bool
	}{
		{"launch", nil, StatusStarting, true},
		{"healthy", []Status{StatusStarting}, StatusRunning, true},
		{"launch over live processes", []Status{StatusStarting}, StatusStarting, true},
		{"unknown status rejected", []Status{StatusStarting}, Status("Paused"), false},
		{"stop while starting", []Status{StatusStarting}, StatusStopped, true},
		{"relaunch after error", []Status{StatusStarting, StatusError}, StatusStarting, true},
		{"refresh keeps running", []Status{StatusStarting, StatusRunning}, StatusRunning, true},
		{"termination incomplete", []Status{StatusStarting, StatusRunning}, StatusError, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sm := newStateMachine("web", 0, logging.Nop())
			for _, status := range tc.path {
				require.NoError(t, sm.Transition(status, "setup"))
			}

			assert.Equal(t, tc.valid, sm.CanTransition(tc.to))
			err := sm.Transition(tc.to, "test")
			if tc.valid {
				require.NoError(t, err)
				assert.Equal(t, tc.to, sm.Current().Status)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestStateMachine_History(t *testing.T) {
	sm := newStateMachine("web", 5, logging.Nop())

	require.NoError(t, sm.Transition(StatusStarting, "checking health"))
	require.NoError(t, sm.Transition(StatusRunning, "started successfully"))
	require.NoError(t, sm.Transition(StatusRunning, "running"))
	require.NoError(t, sm.Transition(StatusRunning, "running"))

	history := sm.History()
	require.Len(t, history, 3)
	assert.Equal(t, StatusStopped, history[0].From)
	assert.Equal(t, StatusStarting, history[0].To)
	assert.Equal(t, "running", history[2].Message)

	for i := 0; i < 10; i++ {
		status := StatusStopped
		if i%2 == 0 {
			status = StatusStarting
		}
		require.NoError(t, sm.Transition(status, fmt.Sprintf("step %d", i)))
	}
	history = sm.History()
	assert.Len(t, history, 5)
	assert.Equal(t, "step 9", history[4].Message)
}
