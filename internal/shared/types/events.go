package types

import "encoding/json"

// Envelope is the frame exchanged over the event channel in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is an envelope whose payload has not been encoded yet
type Outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Inbound palette-scope events
const (
	EventState             = "state"
	EventBigState          = "bigState"
	EventEnvironmentEdit   = "environmentEdit"
	EventEnvironmentMute   = "environmentMute"
	EventEnvironmentList   = "environmentList"
	EventEnvironmentDelete = "environmentDelete"
)

// Inbound terminal-scope events
const (
	EventChangeCwd             = "changeCwd"
	EventChangeCommand         = "changeCommand"
	EventChangeShell           = "changeShell"
	EventChangeTitle           = "changeTitle"
	EventChangeHealth          = "changeHealth"
	EventInput                 = "input"
	EventResize                = "resize"
	EventCommandMetaSetting    = "commandMetaSetting"
	EventEnvironmentListDelete = "environmentListDelete"
	EventRetrieveSettings      = "retrieveSettings"
	EventCopyToClipboard       = "copyToClipboard"
	EventHistory               = "history"
)

// Outbound events
const (
	EventHello          = "hello"
	EventOutput         = "output"
	EventTerminalState  = "terminalState"
	EventStackState     = "stackState"
	EventHaltBeat       = "haltBeat"
	EventTerminalDelete = "terminalDelete"
	EventSettings       = "settings"
	EventClipboard      = "clipboard"
	EventError          = "error"
)

// TerminalState is the snapshot clients render a terminal from
type TerminalState struct {
	ID             string        `json:"id"`
	StackID        string        `json:"stackId"`
	Title          string        `json:"title"`
	ExecutionOrder *int          `json:"executionOrder,omitempty"`
	Command        Command       `json:"command"`
	MetaSettings   *MetaSettings `json:"metaSettings,omitempty"`
	Health         *Health       `json:"health,omitempty"`
	Running        bool          `json:"isRunning"`
	Reserved       bool          `json:"isReserved"`
	Cols           int           `json:"cols"`
	Rows           int           `json:"rows"`
}

// HaltBeat tells palette observers that startup is gated on a terminal
type HaltBeat struct {
	Terminal string `json:"terminal"`
	Waiting  int    `json:"waiting"`
}

// StackSummary is the control-surface view of one stack
type StackSummary struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Running   bool            `json:"running"`
	Terminals map[string]bool `json:"terminals"`
}
