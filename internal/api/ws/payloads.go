package ws

import "encoding/json"

type envEditPayload struct {
	Order       int    `json:"order"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	PreviousKey string `json:"previousKey,omitempty"`
}

type envKeyPayload struct {
	Order int    `json:"order"`
	Key   string `json:"key,omitempty"`
}

// envListPayload adds a set, or replaces the pairs of the set at Order
type envListPayload struct {
	Title string            `json:"title"`
	Pairs map[string]string `json:"pairs"`
	Order *int              `json:"order,omitempty"`
}

type resizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type metaSettingPayload struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type healthPayload struct {
	Delay       int    `json:"delay"`
	HealthCheck string `json:"healthCheck"`
}

type historyPayload struct {
	Kind   string `json:"kind"`
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type historyReply struct {
	Kind   string   `json:"kind"`
	Values []string `json:"values"`
}

type helloReply struct {
	Palette  string `json:"palette"`
	Terminal string `json:"terminal,omitempty"`
}

type clipboardReply struct {
	Text string `json:"text"`
}

type errorReply struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
