package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnhealthy is returned by Check when the target answered but is not healthy
var ErrUnhealthy = errors.New("health check failed")

// Runner executes one-off commands through a shell and probes health checks
type Runner struct {
	shell   string
	timeout time.Duration
	http    *resty.Client
}

// NewRunner creates a runner using the platform default shell. Each command and
// HTTP probe is bounded by timeout.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "termstack-healthcheck/1.0")

	return &Runner{
		shell:   Default(),
		timeout: timeout,
		http:    client,
	}
}

// WithShell overrides the shell used to run commands
func (r *Runner) WithShell(shell string) *Runner {
	r.shell = Effective(shell)
	return r
}

// Run executes cmd and returns its standard output with trailing line breaks removed
func (r *Runner) Run(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	program, args := Resolve(r.shell, false, cmd)
	c := exec.CommandContext(ctx, program, args...)
	c.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return strings.TrimRight(stdout.String(), "\r\n"), fmt.Errorf("%w: %s", err, msg)
		}
		return strings.TrimRight(stdout.String(), "\r\n"), err
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// Check probes target. URLs are fetched with GET and any 2xx is healthy;
// anything else is run as a shell command and exit code 0 is healthy.
func (r *Runner) Check(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("%w: empty target", ErrUnhealthy)
	}

	if IsURL(target) {
		resp, err := r.http.R().SetContext(ctx).Get(target)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnhealthy, err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode())
		}
		return nil
	}

	if _, err := r.Run(ctx, target); err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	return nil
}

// IsURL reports whether a health check target is an HTTP endpoint
func IsURL(target string) bool {
	lower := strings.ToLower(target)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
