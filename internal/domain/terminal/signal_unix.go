//go:build !windows

package terminal

import (
	"os"
	"syscall"
)

// terminate asks the process to hang up
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGHUP)
}
