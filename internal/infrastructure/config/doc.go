// Package config provides 12-factor configuration management for termstack.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Storage: Data dir holding the stack state and settings
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Scheduler: Health-check polling interval and attempt limit
//   - Rerun: Restart backoff and crash-loop suspension
//   - Sequencer: Delay before a recorded reply is typed
//   - Terminal: Initial PTY size
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s\n", cfg.Addr())
//
// Environment Variables:
//   - PORT, HOST, TERMSTACK_DATA_DIR
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - SCHED_INTERVAL, SCHED_LIMIT
//   - RERUN_BACKOFF, RERUN_MIN_UPTIME, RERUN_MAX_CRASHES, RERUN_COOLDOWN
//   - SEQ_REPLY_DELAY, TERM_COLS, TERM_ROWS
package config
