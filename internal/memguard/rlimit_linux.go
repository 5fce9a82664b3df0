//go:build linux

package memguard

import "golang.org/x/sys/unix"

const rlimInfinity = ^uint64(0)

func setAddressSpaceLimit(n uint64) error {
	var cur unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &cur); err != nil {
		return err
	}
	if cur.Max != rlimInfinity && n > cur.Max {
		n = cur.Max
	}
	return unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: n, Max: cur.Max})
}
