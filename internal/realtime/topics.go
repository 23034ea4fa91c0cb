package realtime

import "strings"

const (
	paletteTopicPrefix  = "palette:"
	terminalTopicPrefix = "terminal:"
)

// PaletteTopic carries aggregate and environment events of one palette
func PaletteTopic(paletteID string) string {
	return paletteTopicPrefix + paletteID
}

// TerminalTopic carries output and state of one terminal
func TerminalTopic(paletteID, terminalID string) string {
	return terminalTopicPrefix + paletteID + ":" + terminalID
}

// IsSupportedTopic reports whether topic is a palette or terminal topic
func IsSupportedTopic(topic string) bool {
	switch {
	case strings.HasPrefix(topic, paletteTopicPrefix):
		return len(topic) > len(paletteTopicPrefix)
	case strings.HasPrefix(topic, terminalTopicPrefix):
		rest := strings.TrimPrefix(topic, terminalTopicPrefix)
		pid, tid, ok := strings.Cut(rest, ":")
		return ok && pid != "" && tid != ""
	default:
		return false
	}
}
