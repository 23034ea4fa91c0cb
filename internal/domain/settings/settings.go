// Package settings is the generic key-value store behind the host control
// surface. Known keys carry a default, a type and a category; unknown keys are
// accepted as free-form values.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/GriffinCanCode/termstack/internal/shared/utils"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

var (
	// ErrUnknownKey is returned when resetting a key that has no default
	ErrUnknownKey = errors.New("unknown setting")
	// ErrTypeMismatch is returned when a value does not match a known key's type
	ErrTypeMismatch = errors.New("setting type mismatch")
)

// Value types
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeJSON    = "json"
)

// Setting represents a configuration setting
type Setting struct {
	Key         string      `json:"key"`
	Value       interface{} `json:"value"`
	Type        string      `json:"type"`
	Category    string      `json:"category"`
	Description string      `json:"description,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Backend holds the encoded overrides
type Backend interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

// Store keeps settings in memory and writes every change through
type Store struct {
	backend Backend
	logger  *zap.Logger

	mu     sync.RWMutex
	values map[string]Setting
}

func defaults() map[string]Setting {
	list := []Setting{
		// Appearance
		{Key: "appearance.theme", Value: "dark", Type: TypeString, Category: "appearance", Description: "UI theme"},
		{Key: "appearance.font_size", Value: 14.0, Type: TypeNumber, Category: "appearance", Description: "Terminal font size (px)"},
		{Key: "appearance.font_family", Value: "monospace", Type: TypeString, Category: "appearance", Description: "Terminal font family"},

		// Terminal
		{Key: "terminal.scrollback", Value: 5000.0, Type: TypeNumber, Category: "terminal", Description: "Lines kept per terminal"},
		{Key: "terminal.default_shell", Value: "", Type: TypeString, Category: "terminal", Description: "Shell for terminals without one (empty = platform default)"},
		{Key: "terminal.copy_on_select", Value: false, Type: TypeBoolean, Category: "terminal", Description: "Copy selected output"},

		// Stacks
		{Key: "stacks.confirm_stop", Value: true, Type: TypeBoolean, Category: "stacks", Description: "Ask before stopping a running stack"},
		{Key: "stacks.start_on_launch", Value: false, Type: TypeBoolean, Category: "stacks", Description: "Start every stack when the service starts"},
	}

	out := make(map[string]Setting, len(list))
	for _, s := range list {
		s.Default = s.Value
		out[s.Key] = s
	}
	return out
}

// New loads stored overrides on top of the defaults
func New(backend Backend, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{backend: backend, logger: logger, values: defaults()}

	data, err := backend.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var stored map[string]interface{}
	if err := sonic.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	for key, value := range stored {
		if err := s.apply(key, value); err != nil {
			logger.Warn("Ignoring stored setting", zap.String("key", key), zap.Error(err))
		}
	}
	return s, nil
}

// Get returns one setting
func (s *Store) Get(key string) (Setting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	setting, ok := s.values[key]
	return setting, ok
}

// Bool returns a boolean setting, false when unset or of another type
func (s *Store) Bool(key string) bool {
	setting, ok := s.Get(key)
	if !ok {
		return false
	}
	b, _ := setting.Value.(bool)
	return b
}

// List returns the settings of a category, or all when category is empty,
// sorted by key
func (s *Store) List(category string) []Setting {
	s.mu.RLock()
	out := make([]Setting, 0, len(s.values))
	for _, setting := range s.values {
		if category == "" || setting.Category == category {
			out = append(out, setting)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Categories returns the distinct categories in sorted order
func (s *Store) Categories() []string {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for _, setting := range s.values {
		seen[setting.Category] = struct{}{}
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Set stores a value and writes the overrides
func (s *Store) Set(key string, value interface{}) (Setting, error) {
	if err := utils.ValidateString(key, "key", 1, 128, true); err != nil {
		return Setting{}, err
	}
	if err := s.apply(key, value); err != nil {
		return Setting{}, err
	}
	setting, _ := s.Get(key)
	return setting, s.persist()
}

// Reset restores a known key's default, or removes a free-form key
func (s *Store) Reset(key string) (Setting, error) {
	s.mu.Lock()
	def, known := defaults()[key]
	_, present := s.values[key]
	switch {
	case known:
		s.values[key] = def
	case present:
		delete(s.values, key)
	default:
		s.mu.Unlock()
		return Setting{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	s.mu.Unlock()

	return def, s.persist()
}

func (s *Store) apply(key string, value interface{}) error {
	value = normalize(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.values[key]; ok && current.Default != nil {
		if got := typeOf(value); got != current.Type {
			return fmt.Errorf("%w: %s expects %s, got %s", ErrTypeMismatch, key, current.Type, got)
		}
		current.Value = value
		s.values[key] = current
		return nil
	}

	s.values[key] = Setting{Key: key, Value: value, Type: typeOf(value), Category: "custom"}
	return nil
}

func (s *Store) persist() error {
	s.mu.RLock()
	overrides := make(map[string]interface{}, len(s.values))
	for key, setting := range s.values {
		overrides[key] = setting.Value
	}
	s.mu.RUnlock()

	data, err := sonic.ConfigStd.MarshalIndent(overrides, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.backend.Write(data); err != nil {
		s.logger.Error("Failed to write settings", zap.Error(err))
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return value
	}
}

func typeOf(value interface{}) string {
	switch value.(type) {
	case string:
		return TypeString
	case float64:
		return TypeNumber
	case bool:
		return TypeBoolean
	default:
		return TypeJSON
	}
}
