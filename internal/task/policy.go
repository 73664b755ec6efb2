package task

import (
	"fmt"
	"runtime"
)

// RecyclePolicy is the resource budget of a worker slot. The pool consults
// it after every job.
type RecyclePolicy struct {
	// MaxTasks recycles a slot after this many jobs; 0 disables.
	MaxTasks int

	// MaxMemoryBytes recycles a slot when MemoryUsage exceeds it; 0 disables.
	MaxMemoryBytes uint64

	// MemoryUsage reports current memory use. Defaults to ProcessMemory.
	MemoryUsage func() uint64
}

// ShouldRecycle reports whether a slot that has completed tasksDone jobs
// since its last recycle must recycle, and why.
func (p RecyclePolicy) ShouldRecycle(tasksDone int) (bool, string) {
	if p.MaxTasks > 0 && tasksDone >= p.MaxTasks {
		return true, fmt.Sprintf("processed %d jobs", tasksDone)
	}
	if p.MaxMemoryBytes > 0 {
		usage := p.memoryUsage()
		if usage > p.MaxMemoryBytes {
			return true, fmt.Sprintf("memory %d MB over limit %d MB", usage>>20, p.MaxMemoryBytes>>20)
		}
	}
	return false, ""
}

func (p RecyclePolicy) memoryUsage() uint64 {
	if p.MemoryUsage != nil {
		return p.MemoryUsage()
	}
	return ProcessMemory()
}

// ProcessMemory approximates the resident memory of the Go runtime: memory
// obtained from the OS minus heap returned to it.
func ProcessMemory() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys - m.HeapReleased
}
