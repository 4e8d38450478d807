package processtracker

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// Descendants returns every transitive child of the given roots, excluding the roots.
// The process table is read once so the result is a consistent snapshot.
func Descendants(ctx context.Context, roots []int) ([]int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	children := make(map[int32][]int32, len(procs))
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			// raced with exit
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	seen := make(map[int32]bool, len(roots))
	queue := make([]int32, 0, len(roots))
	for _, pid := range roots {
		seen[int32(pid)] = true
		queue = append(queue, int32(pid))
	}

	var result []int
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children[pid] {
			if seen[child] {
				continue
			}
			seen[child] = true
			result = append(result, int(child))
			queue = append(queue, child)
		}
	}
	return result, nil
}

// isGone reports whether pid no longer exists or only lingers as a zombie
func isGone(ctx context.Context, pid int) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return err == nil
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return true
	}
	statuses, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, status := range statuses {
		if status == process.Zombie {
			return true
		}
	}
	return false
}

func terminatePID(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	return p.TerminateWithContext(ctx)
}

func killPID(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	return p.KillWithContext(ctx)
}

// createTimeMillis returns the process start time in Unix milliseconds
func createTimeMillis(ctx context.Context, pid int) (int64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0, err
	}
	return p.CreateTimeWithContext(ctx)
}
