//go:build !linux

package memguard

func setAddressSpaceLimit(uint64) error { return nil }
