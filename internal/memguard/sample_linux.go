//go:build linux

package memguard

import "github.com/prometheus/procfs"

// ProcessSample reads resident and virtual size from /proc/self/stat.
func ProcessSample() (Sample, error) {
	p, err := procfs.Self()
	if err != nil {
		return Sample{}, err
	}
	stat, err := p.Stat()
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		RSS: uint64(stat.ResidentMemory()),
		VMS: uint64(stat.VirtualMemory()),
	}, nil
}
