//go:build windows

package terminal

import "os"

// terminate kills the process; Windows has no hangup signal
func terminate(p *os.Process) error {
	return p.Kill()
}
