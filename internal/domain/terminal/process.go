package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
)

// process is one run of a terminal's command on a PTY
type process struct {
	cmd       *exec.Cmd
	pty       *os.File
	startedAt time.Time
	// stopped is set once a termination signal was sent
	stopped atomic.Bool
	// interrupted holds the unix nanos of the last typed interrupt
	interrupted atomic.Int64
	done        chan struct{}
}

type spawnSpec struct {
	program string
	args    []string
	dir     string
	env     []string
	cols    int
	rows    int
}

func spawn(spec spawnSpec) (*process, error) {
	cmd := exec.Command(spec.program, spec.args...)
	cmd.Dir = spec.dir
	cmd.Env = spec.env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(spec.rows),
		Cols: uint16(spec.cols),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.program, err)
	}

	return &process{
		cmd:       cmd,
		pty:       ptmx,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}, nil
}

// pump forwards output until the PTY closes, then reaps the process and
// reports its exit code
func (p *process) pump(onOutput func(string), onExit func(code int)) {
	buf := make([]byte, 4096)
	for {
		n, err := p.pty.Read(buf)
		if n > 0 {
			onOutput(string(buf[:n]))
		}
		if err != nil {
			break
		}
	}

	code := exitCode(p.cmd.Wait())
	p.pty.Close()
	onExit(code)
	close(p.done)
}

func (p *process) write(data []byte) error {
	_, err := p.pty.Write(data)
	return err
}

func (p *process) resize(cols, rows int) error {
	return pty.Setsize(p.pty, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (p *process) markInterrupted(at time.Time) {
	p.interrupted.Store(at.UnixNano())
}

// userStopped reports whether an exit at now was caused by a stop. An
// interrupt only counts within interruptGrace: a shell that survives it and
// exits later on its own was not stopped.
func (p *process) userStopped(now time.Time) bool {
	if p.stopped.Load() {
		return true
	}
	at := p.interrupted.Load()
	return at != 0 && now.Sub(time.Unix(0, at)) <= interruptGrace
}

func (p *process) uptime() time.Duration {
	return time.Since(p.startedAt)
}

// input exposes the PTY as the writer sequenced replies go to
func (p *process) input() io.Writer {
	return p.pty
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
