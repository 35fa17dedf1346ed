package config

import (
	"runtime"
	"runtime/debug"
)

// RuntimeTuning holds GC/scheduler knobs applied once at process start so
// tick processing does not stall behind a GC pause mid-batch.
type RuntimeTuning struct {
	GCPercent   int   `mapstructure:"gc_percent"`
	MemoryLimit int64 `mapstructure:"memory_limit_bytes"`
	MaxProcs    int   `mapstructure:"max_procs"`
}

// DefaultRuntimeTuning favors fewer GC cycles (higher throughput) over a
// smaller heap.
func DefaultRuntimeTuning() RuntimeTuning {
	return RuntimeTuning{
		GCPercent:   300,
		MemoryLimit: 4 << 30,
		MaxProcs:    runtime.NumCPU(),
	}
}

// Apply sets GOGC, the soft memory limit, and GOMAXPROCS.
func (t RuntimeTuning) Apply() {
	debug.SetGCPercent(t.GCPercent)
	if t.MemoryLimit > 0 {
		debug.SetMemoryLimit(t.MemoryLimit)
	}
	if t.MaxProcs > 0 {
		runtime.GOMAXPROCS(t.MaxProcs)
	}
}
