package launcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

// Status is the lifecycle state of an app as shown to clients
type Status string

const (
	// StatusStopped means no tracked process is alive
	StatusStopped Status = "Stopped"

	// StatusStarting means a launch attempt is in flight or processes are alive but not healthy
	StatusStarting Status = "Starting"

	// StatusRunning means the app answered its health checks or its processes are alive
	StatusRunning Status = "Running"

	// StatusError means the last launch or stop failed; Message says why
	StatusError Status = "Error"
)

var allStatuses = []Status{StatusStopped, StatusStarting, StatusRunning, StatusError}

// AppStatus is the runtime status of one app
type AppStatus struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	LastCheck time.Time `json:"last_check"`
}

// StateTransition represents a state transition with metadata
type StateTransition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const defaultHistorySize = 50

// stateMachine holds one app's status and validates transitions
type stateMachine struct {
	appID            string
	current          AppStatus
	history          []StateTransition
	historySize      int
	validTransitions map[Status][]Status
	mutex            sync.RWMutex
	logger           logging.Logger
}

func newStateMachine(appID string, historySize int, logger logging.Logger) *stateMachine {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}

	return &stateMachine{
		appID:       appID,
		current:     AppStatus{Status: StatusStopped, LastCheck: time.Now()},
		historySize: historySize,
		logger:      logger,
		validTransitions: map[Status][]Status{
			StatusStopped: {
				StatusStopped,  // refresh, idempotent stop
				StatusStarting, // launch, or refresh found live processes
				StatusRunning,  // refresh found a healthy app started elsewhere
				StatusError,    // termination incomplete
			},
			StatusStarting: {
				StatusStarting, // launch over live but unhealthy processes
				StatusRunning,  // healthy
				StatusError,   // spawn failure, exit, timeout
				StatusStopped, // stop while starting
			},
			StatusRunning: {
				StatusRunning,  // refresh
				StatusStarting, // launch re-check, or alive but unhealthy
				StatusStopped,  // stop, or everything exited
				StatusError,    // termination incomplete
			},
			StatusError: {
				StatusError,    // refresh keeps the failure visible
				StatusStarting, // retry
				StatusRunning,  // refresh found it healthy
				StatusStopped,  // stop
			},
		},
	}
}

func (sm *stateMachine) Current() AppStatus {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.current
}

func (sm *stateMachine) CanTransition(to Status) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.canTransitionUnsafe(to)
}

// Transition moves to a new status with validation
func (sm *stateMachine) Transition(to Status, message string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	from := sm.current.Status
	if !sm.canTransitionUnsafe(to) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid state transition from %s to %s", from, to),
			nil,
		).WithContext("app_id", sm.appID).WithContext("current_state", string(from)).WithContext("target_state", string(to))
	}

	now := time.Now()
	sm.current = AppStatus{Status: to, Message: message, LastCheck: now}

	if from == to && len(sm.history) > 0 && sm.history[len(sm.history)-1].Message == message {
		return nil
	}
	sm.history = append(sm.history, StateTransition{From: from, To: to, Message: message, Timestamp: now})
	if len(sm.history) > sm.historySize {
		sm.history = sm.history[len(sm.history)-sm.historySize:]
	}

	if from != to {
		if to == StatusError {
			sm.logger.Warnf("App state transition, app: %s, %s->%s, message: %s", sm.appID, from, to, message)
		} else {
			sm.logger.Infof("App state transition, app: %s, %s->%s, message: %s", sm.appID, from, to, message)
		}
	}
	return nil
}

func (sm *stateMachine) canTransitionUnsafe(to Status) bool {
	for _, valid := range sm.validTransitions[sm.current.Status] {
		if valid == to {
			return true
		}
	}
	return false
}

// History returns a copy of the recorded transitions, oldest first
func (sm *stateMachine) History() []StateTransition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	history := make([]StateTransition, len(sm.history))
	copy(history, sm.history)
	return history
}
