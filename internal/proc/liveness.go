// Package proc answers process-liveness queries for the pruning sweeper.
package proc

import "github.com/shirou/gopsutil/v3/process"

// Checker reports pid liveness via the OS process table. When the check
// itself fails the pid is reported alive: destroying state for a live
// session is worse than keeping a dead one around another sweep.
type Checker struct{}

func (Checker) Alive(pid int) bool {
	if pid <= 0 {
		return true
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return exists
}
