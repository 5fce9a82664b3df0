//go:build !linux

package capture

// ApplyTuning is only implemented on Linux.
func ApplyTuning(pid int, t Tuning) error {
	if t.IsZero() {
		return nil
	}
	return ErrTuningUnsupported
}
