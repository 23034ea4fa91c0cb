// Package paths provides the standardized layout of the data directory.
//
// # Directory Structure
//
//	<data dir>/
//	  ├── stacks.json     (persisted stacks)
//	  ├── history.jsonl   (command, cwd, shell and health-check history)
//	  ├── settings.json   (UI and behavior settings)
//	  └── exports/        (default target of relative export paths)
//
// # Usage
//
//	layout := paths.New(dataDir)
//	hist, err := history.Open(layout.History(), logger)
//
//	// Resolve a client-supplied export path
//	target, err := layout.ResolveExport("~/backup/stacks.yaml")
package paths
