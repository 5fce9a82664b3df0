//go:build windows

package capture

import "os"

// Windows has no graceful signal for console-less children.
func terminate(p *os.Process) error {
	return p.Kill()
}
