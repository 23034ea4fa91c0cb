// Package shell decides which program a terminal runs and runs one-off shell
// commands for health checks and sequencer replies.
package shell

import (
	"path/filepath"
	"runtime"
	"strings"
)

const (
	windowsDefault = "powershell.exe"
	posixDefault   = "bash"
)

// Default returns the platform default shell
func Default() string {
	return defaultFor(runtime.GOOS)
}

func defaultFor(goos string) string {
	if goos == "windows" {
		return windowsDefault
	}
	return posixDefault
}

// Effective returns the explicit shell when set, or the platform default
func Effective(explicit string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	return Default()
}

// Resolve returns the program and argument vector that run cmd. With loose set
// the vector is empty: the shell stays interactive and the caller types cmd in.
func Resolve(explicit string, loose bool, cmd string) (string, []string) {
	program := Effective(explicit)
	if loose {
		return program, []string{}
	}
	return program, []string{commandFlag(program), cmd}
}

// commandFlag returns the flag that makes program run a single command string
func commandFlag(program string) string {
	base := strings.ToLower(filepath.Base(strings.ReplaceAll(program, `\`, "/")))
	base = strings.TrimSuffix(base, ".exe")

	switch base {
	case "powershell", "pwsh":
		return "-Command"
	case "cmd":
		return "/C"
	default:
		return "-c"
	}
}
