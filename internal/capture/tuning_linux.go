package capture

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ApplyTuning renices and pins pid. A pid of 0 is the calling process.
func ApplyTuning(pid int, t Tuning) error {
	var errs []error
	if t.Renice {
		if err := unix.Setpriority(unix.PRIO_PROCESS, pid, t.Nice); err != nil {
			errs = append(errs, fmt.Errorf("setpriority %d: %w", t.Nice, err))
		}
	}
	if len(t.CPUs) > 0 {
		var set unix.CPUSet
		set.Zero()
		for _, c := range t.CPUs {
			set.Set(c)
		}
		if err := unix.SchedSetaffinity(pid, &set); err != nil {
			errs = append(errs, fmt.Errorf("sched_setaffinity %v: %w", t.CPUs, err))
		}
	}
	return errors.Join(errs...)
}
