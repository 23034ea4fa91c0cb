// Package http implements the host control surface: stack and terminal
// lifecycle, settings, export and the health endpoint. Handlers translate
// domain sentinel errors into status codes; all other behavior lives in the
// orchestrator.
package http
