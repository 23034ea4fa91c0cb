// Package types provides the shared data structures of termstack.
//
// Persisted model:
//   - Stack: a named palette of terminals plus stack-level environment sets
//   - Terminal: one unit of work (command, meta settings, health gate)
//   - EnvironmentSet: one ordered layer of environment variables
//   - SequenceStep: one recorded reply of the output sequencer
//
// Event surface:
//   - Envelope / Outbound: frames on the event channel
//   - TerminalState: the snapshot clients render a terminal from
//   - HaltBeat, StackSummary: aggregate views
//
// Records are plain values. Live process state never lives here; it is
// owned by the terminal session and only copied into TerminalState.
package types
