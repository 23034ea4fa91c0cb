/*
Package monitoring provides Prometheus metrics for termstack.

# Overview

Metrics live on a private registry so several collectors can coexist, in
tests or in one process. The collector satisfies the metrics interfaces of
the terminal, scheduler and orchestrator packages.

# Features

- HTTP request metrics (latency, throughput)
- Terminal lifecycle metrics (running, spawns, exits, reruns)
- Startup health-check outcomes and sequencer replays
- State save outcomes
- WebSocket connection and message metrics
- Go runtime, process and uptime metrics

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
