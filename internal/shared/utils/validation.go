package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Size limits (in bytes)
const (
	MaxFrameSize   = 1 * 1024 * 1024 // 1MB - maximum inbound event frame
	MaxInputSize   = 64 * 1024       // 64KB - single terminal input write
	MaxCommandSize = 16 * 1024       // 16KB - command line
)

// String length limits
const (
	MaxIDLength     = 128
	MaxTitleLength  = 256
	MaxPathLength   = 4096
	MaxEnvKeyLength = 256
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// EnvKeyPattern is what POSIX shells accept as a variable name
	EnvKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

	titlePolicy = bluemonday.StrictPolicy()
)

// ValidateFrame checks an inbound frame's size and that it is JSON
func ValidateFrame(data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame size %d bytes exceeds maximum %d bytes", len(data), MaxFrameSize)
	}
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON frame")
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidatePath validates a filesystem path supplied by a client
func ValidatePath(path, fieldName string, required bool) error {
	return ValidateString(path, fieldName, 1, MaxPathLength, required)
}

// ValidateEnvKey validates an environment variable name
func ValidateEnvKey(key string) error {
	if err := ValidateString(key, "key", 1, MaxEnvKeyLength, true); err != nil {
		return err
	}
	if !EnvKeyPattern.MatchString(key) {
		return fmt.Errorf("key %q is not a valid environment variable name", key)
	}
	return nil
}

// ValidateEnvPairs validates every key of an imported set. Keys are checked in
// sorted order so the reported key is stable.
func ValidateEnvPairs(pairs map[string]string) error {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ValidateEnvKey(k); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeTitle strips markup from a display title and trims it to MaxTitleLength runes.
// Titles are rendered by browser clients, so no HTML survives.
func SanitizeTitle(title string) string {
	clean := strings.TrimSpace(titlePolicy.Sanitize(title))
	if utf8.RuneCountInString(clean) > MaxTitleLength {
		clean = string([]rune(clean)[:MaxTitleLength])
	}
	return clean
}
