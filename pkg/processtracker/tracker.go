package processtracker

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/processfile"
	"github.com/core-tools/hsu-launcher/pkg/processstate"
)

// TerminationResult is the outcome of Terminate
type TerminationResult string

const (
	Terminated     TerminationResult = "terminated"
	NotFound       TerminationResult = "not_found"
	PartialFailure TerminationResult = "partial_failure"
)

const (
	DefaultGracePeriod = 5 * time.Second
	DefaultKillTimeout = 2 * time.Second

	exitPollInterval  = 100 * time.Millisecond
	adoptPollInterval = 500 * time.Millisecond

	// unknownExitCode is reported for processes that were not spawned by this tracker
	unknownExitCode = -1
)

type Options struct {
	GracePeriod time.Duration
	KillTimeout time.Duration

	// PIDFiles, when set, mirrors registrations to <appID>.pid files
	PIDFiles *processfile.ProcessFileManager
}

// Tracker is the single owner of spawned process handles, keyed by app ID
type Tracker struct {
	options Options
	logger  logging.Logger

	mutex   sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	// opMutex serializes terminations of one app
	opMutex sync.Mutex

	mutex sync.Mutex
	procs []*trackedProcess
}

type trackedProcess struct {
	proc    *os.Process
	adopted bool
	done    chan struct{}

	exitCode int // valid once done is closed
}

func (p *trackedProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func NewTracker(options Options, logger logging.Logger) *Tracker {
	if options.GracePeriod <= 0 {
		options.GracePeriod = DefaultGracePeriod
	}
	if options.KillTimeout <= 0 {
		options.KillTimeout = DefaultKillTimeout
	}
	return &Tracker{
		options: options,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

func (t *Tracker) getEntry(appID string, create bool) *entry {
	t.mutex.RLock()
	e, ok := t.entries[appID]
	t.mutex.RUnlock()
	if ok || !create {
		return e
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if e, ok = t.entries[appID]; !ok {
		e = &entry{}
		t.entries[appID] = e
	}
	return e
}

// Register adds a spawned process to appID and starts reaping it
func (t *Tracker) Register(appID string, proc *os.Process) {
	tp := &trackedProcess{proc: proc, done: make(chan struct{})}
	go t.reap(appID, tp)

	e := t.getEntry(appID, true)
	e.mutex.Lock()
	e.procs = append(e.procs, tp)
	pids := pidsOf(e.procs, false)
	e.mutex.Unlock()

	t.logger.Debugf("Registered process, app: %s, PID: %d", appID, proc.Pid)
	t.writePIDFile(appID, pids)
}

func (t *Tracker) reap(appID string, tp *trackedProcess) {
	defer close(tp.done)

	if tp.adopted {
		for {
			running, err := processstate.IsProcessRunning(tp.proc.Pid)
			if err == nil && (!running || isGone(context.Background(), tp.proc.Pid)) {
				tp.exitCode = unknownExitCode
				t.logger.Infof("Adopted process exited, app: %s, PID: %d", appID, tp.proc.Pid)
				return
			}
			time.Sleep(adoptPollInterval)
		}
	}

	state, err := tp.proc.Wait()
	if err != nil {
		tp.exitCode = unknownExitCode
		t.logger.Warnf("Failed to wait for process, app: %s, PID: %d, error: %v", appID, tp.proc.Pid, err)
		return
	}
	tp.exitCode = state.ExitCode()
	t.logger.Infof("Process exited, app: %s, PID: %d, code: %d", appID, tp.proc.Pid, tp.exitCode)
}

// Lookup returns the live PIDs of appID; ok is false when nothing is tracked
func (t *Tracker) Lookup(appID string) ([]int, bool) {
	e := t.getEntry(appID, false)
	if e == nil {
		return nil, false
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if len(e.procs) == 0 {
		return nil, false
	}
	return pidsOf(e.procs, true), true
}

// Alive reports whether any tracked process of appID is still running
func (t *Tracker) Alive(appID string) bool {
	pids, _ := t.Lookup(appID)
	return len(pids) > 0
}

// ExitStatus reports whether every tracked process has exited, with the first non-zero exit code
func (t *Tracker) ExitStatus(appID string) (bool, int) {
	e := t.getEntry(appID, false)
	if e == nil {
		return false, 0
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(e.procs) == 0 {
		return false, 0
	}
	code := 0
	for _, tp := range e.procs {
		if !tp.exited() {
			return false, 0
		}
		if code == 0 && tp.exitCode != 0 {
			code = tp.exitCode
		}
	}
	return true, code
}

// Terminate stops every process of appID together with its descendants.
// The registration is dropped only when nothing survives.
func (t *Tracker) Terminate(ctx context.Context, appID string) (TerminationResult, error) {
	e := t.getEntry(appID, false)
	if e == nil {
		return NotFound, nil
	}

	e.opMutex.Lock()
	defer e.opMutex.Unlock()

	e.mutex.Lock()
	procs := make([]*trackedProcess, len(e.procs))
	copy(procs, e.procs)
	e.mutex.Unlock()

	if len(procs) == 0 {
		return NotFound, nil
	}

	var live []*trackedProcess
	for _, tp := range procs {
		if !tp.exited() {
			live = append(live, tp)
		}
	}

	if len(live) > 0 {
		survivors := t.terminateLive(ctx, appID, live)
		if len(survivors) > 0 {
			t.logger.Errorf("Termination incomplete, app: %s, surviving PIDs: %v", appID, survivors)
			return PartialFailure, errors.NewTerminationPartialFailureError(
				fmt.Sprintf("pids %v still running", survivors), nil,
			).WithContext("app_id", appID).WithContext("pids", survivors)
		}
	}

	t.unregister(appID, e, procs)
	t.logger.Infof("Terminated app processes, app: %s, count: %d", appID, len(live))
	return Terminated, nil
}

func (t *Tracker) terminateLive(ctx context.Context, appID string, live []*trackedProcess) []int {
	roots := pidsOf(live, false)

	// snapshot before signalling: children get re-parented once their parent exits
	children, err := Descendants(ctx, roots)
	if err != nil {
		t.logger.Warnf("Failed to enumerate descendants, app: %s, error: %v", appID, err)
	}
	t.logger.Infof("Terminating app processes, app: %s, PIDs: %v, descendants: %v", appID, roots, children)

	for _, tp := range live {
		if err := process.SendTerminationSignal(tp.proc.Pid, false, t.options.GracePeriod); err != nil {
			t.logger.Warnf("Failed to send termination signal, app: %s, PID: %d, error: %v", appID, tp.proc.Pid, err)
		}
	}
	for _, pid := range children {
		if err := terminatePID(ctx, pid); err != nil {
			t.logger.Debugf("Failed to terminate descendant, app: %s, PID: %d, error: %v", appID, pid, err)
		}
	}

	survivingProcs, survivingChildren := t.waitGone(ctx, live, children, t.options.GracePeriod)
	if len(survivingProcs) == 0 && len(survivingChildren) == 0 {
		return nil
	}

	t.logger.Warnf("Processes did not exit within %v, forcing termination, app: %s", t.options.GracePeriod, appID)

	// the kill phase must run even when the caller's context is gone
	killCtx := context.WithoutCancel(ctx)
	for _, tp := range survivingProcs {
		if err := process.KillProcessGroup(tp.proc.Pid); err != nil {
			t.logger.Debugf("Failed to kill process group, app: %s, PID: %d, error: %v", appID, tp.proc.Pid, err)
		}
		if err := tp.proc.Kill(); err != nil {
			t.logger.Debugf("Failed to kill process, app: %s, PID: %d, error: %v", appID, tp.proc.Pid, err)
		}
	}
	for _, pid := range survivingChildren {
		if err := killPID(killCtx, pid); err != nil {
			t.logger.Debugf("Failed to kill descendant, app: %s, PID: %d, error: %v", appID, pid, err)
		}
	}

	survivingProcs, survivingChildren = t.waitGone(killCtx, survivingProcs, survivingChildren, t.options.KillTimeout)
	survivors := append(pidsOf(survivingProcs, false), survivingChildren...)
	sort.Ints(survivors)
	return survivors
}

// waitGone polls until everything exited, timeout elapsed or ctx ended
func (t *Tracker) waitGone(ctx context.Context, procs []*trackedProcess, children []int, timeout time.Duration) ([]*trackedProcess, []int) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()

	for {
		var remainingProcs []*trackedProcess
		for _, tp := range procs {
			if !tp.exited() {
				remainingProcs = append(remainingProcs, tp)
			}
		}
		var remainingChildren []int
		for _, pid := range children {
			if !isGone(context.Background(), pid) {
				remainingChildren = append(remainingChildren, pid)
			}
		}
		procs, children = remainingProcs, remainingChildren
		if len(procs) == 0 && len(children) == 0 {
			return nil, nil
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return procs, children
		case <-ctx.Done():
			return procs, children
		}
	}
}

func (t *Tracker) unregister(appID string, e *entry, terminated []*trackedProcess) {
	gone := make(map[*trackedProcess]bool, len(terminated))
	for _, tp := range terminated {
		gone[tp] = true
	}

	e.mutex.Lock()
	var kept []*trackedProcess
	for _, tp := range e.procs {
		if !gone[tp] {
			kept = append(kept, tp)
		}
	}
	e.procs = kept
	e.mutex.Unlock()

	if len(kept) > 0 {
		t.writePIDFile(appID, pidsOf(kept, false))
		return
	}

	t.mutex.Lock()
	if t.entries[appID] == e {
		delete(t.entries, appID)
	}
	t.mutex.Unlock()

	if t.options.PIDFiles != nil {
		if err := t.options.PIDFiles.RemovePIDFile(appID); err != nil {
			t.logger.Warnf("Failed to remove PID file, app: %s, error: %v", appID, err)
		}
	}
}

// Adopt re-attaches to processes recorded in appID's PID file by an earlier launcher run.
// PIDs that are gone, or were reused by a process started after the file was written, are skipped.
func (t *Tracker) Adopt(ctx context.Context, appID string) int {
	if t.options.PIDFiles == nil {
		return 0
	}

	pids, written, err := t.options.PIDFiles.ReadPIDFile(appID)
	if err != nil {
		if !errors.IsNotFoundError(err) {
			t.logger.Warnf("Failed to read PID file, app: %s, error: %v", appID, err)
		}
		return 0
	}

	adopted := 0
	for _, pid := range pids {
		running, err := processstate.IsProcessRunning(pid)
		if err != nil || !running || isGone(ctx, pid) {
			continue
		}
		created, err := createTimeMillis(ctx, pid)
		if err != nil || time.UnixMilli(created).After(written.Add(time.Second)) {
			t.logger.Debugf("Skipping reused PID, app: %s, PID: %d", appID, pid)
			continue
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}

		tp := &trackedProcess{proc: proc, adopted: true, done: make(chan struct{})}
		go t.reap(appID, tp)

		e := t.getEntry(appID, true)
		e.mutex.Lock()
		e.procs = append(e.procs, tp)
		e.mutex.Unlock()
		adopted++
	}

	if adopted == 0 {
		_ = t.options.PIDFiles.RemovePIDFile(appID)
	} else {
		t.logger.Infof("Adopted running processes, app: %s, count: %d", appID, adopted)
	}
	return adopted
}

func (t *Tracker) writePIDFile(appID string, pids []int) {
	if t.options.PIDFiles == nil {
		return
	}
	if err := t.options.PIDFiles.WritePIDFile(appID, pids); err != nil {
		t.logger.Warnf("Failed to write PID file, app: %s, error: %v", appID, err)
	}
}

func pidsOf(procs []*trackedProcess, liveOnly bool) []int {
	pids := make([]int, 0, len(procs))
	for _, tp := range procs {
		if liveOnly && tp.exited() {
			continue
		}
		pids = append(pids, tp.proc.Pid)
	}
	return pids
}
