package browser

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryOracle reports resident memory for the service process tree.
// The pool consults it before creating new instances; tests substitute
// a fixed-value fake.
type MemoryOracle interface {
	// ResidentMB returns resident set size in megabytes, including
	// child browser processes.
	ResidentMB() (uint64, error)
}

// ProcessMemoryOracle measures the current process and its children
// via the OS process table.
type ProcessMemoryOracle struct {
	pid int32
}

// NewProcessMemoryOracle creates an oracle for the current process.
func NewProcessMemoryOracle() *ProcessMemoryOracle {
	return &ProcessMemoryOracle{pid: int32(os.Getpid())}
}

// ResidentMB sums RSS for the service process and all descendants.
// Browser processes are children of this process, so the sum reflects
// the true footprint of the pool.
func (o *ProcessMemoryOracle) ResidentMB() (uint64, error) {
	proc, err := process.NewProcess(o.pid)
	if err != nil {
		return 0, err
	}

	total := uint64(0)
	if info, err := proc.MemoryInfo(); err == nil && info != nil {
		total += info.RSS
	} else if err != nil {
		return 0, err
	}

	children, err := proc.Children()
	if err != nil {
		// No children is normal before the first browser launches
		log.Debug().Err(err).Msg("Could not list child processes for memory check")
		return total / (1024 * 1024), nil
	}
	for _, child := range children {
		if info, err := child.MemoryInfo(); err == nil && info != nil {
			total += info.RSS
		}
	}

	return total / (1024 * 1024), nil
}
