//go:build !linux

package memguard

import "runtime"

// ProcessSample approximates resident size from the Go runtime's view of
// memory obtained from the OS.
func ProcessSample() (Sample, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Sample{
		RSS: m.Sys - m.HeapReleased,
		VMS: m.Sys,
	}, nil
}
