// Package main is the entry point for the termstack server.
//
// termstack runs stacks of terminals: each terminal owns a shell process on a
// PTY, stacks start their terminals in execution order behind health checks,
// and a browser UI drives everything over one websocket per palette or
// terminal.
//
// The server provides:
//   - Event channel at /ws for palettes and terminals
//   - REST API for stacks, terminals, settings and export
//   - Prometheus metrics at /metrics
//   - Persistence of stacks, command history and settings in the data dir
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//
// Usage:
//
//	./server -port 7420 -data ~/.config/termstack
//
//	# Development mode (console logs)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: save state, stop every terminal, exit
package main
