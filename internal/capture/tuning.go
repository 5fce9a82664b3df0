package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrTuningUnsupported is returned by ApplyTuning where the platform has no
// way to renice or pin a process.
var ErrTuningUnsupported = errors.New("capture: process tuning unsupported on this platform")

// Tuning is the scheduling applied to a process after it starts.
type Tuning struct {
	// Nice is applied only when Renice is set.
	Nice   int
	Renice bool
	// CPUs pins the process to these cores; empty leaves affinity alone.
	CPUs []int
}

// IsZero reports whether t changes nothing.
func (t Tuning) IsZero() bool { return !t.Renice && len(t.CPUs) == 0 }

// ParsePriority maps a priority name to a nice value. "normal" leaves the
// process alone.
func ParsePriority(name string) (nice int, renice bool, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "normal":
		return 0, false, nil
	case "high", "alta":
		return -10, true, nil
	case "realtime", "real-time", "tempo real", "tempo_real":
		return -20, true, nil
	default:
		return 0, false, fmt.Errorf("capture: unknown process priority %q", name)
	}
}

// ParseCPUList parses a comma-separated core list. "all" and "" mean no
// pinning.
func ParseCPUList(list string) ([]int, error) {
	list = strings.TrimSpace(list)
	if list == "" || strings.EqualFold(list, "all") {
		return nil, nil
	}
	var cpus []int
	for _, f := range strings.Split(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("capture: invalid cpu %q in %q", f, list)
		}
		cpus = append(cpus, n)
	}
	return cpus, nil
}

// ParseTuning builds a Tuning from the priority and affinity settings.
func ParseTuning(priority, affinity string) (Tuning, error) {
	nice, renice, err := ParsePriority(priority)
	if err != nil {
		return Tuning{}, err
	}
	cpus, err := ParseCPUList(affinity)
	if err != nil {
		return Tuning{}, err
	}
	return Tuning{Nice: nice, Renice: renice, CPUs: cpus}, nil
}
