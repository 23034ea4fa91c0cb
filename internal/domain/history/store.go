// Package history keeps the most recent values typed into a few terminal fields
// so clients can offer them as suggestions.
package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Kind is a history category
type Kind string

const (
	KindCommand     Kind = "command"
	KindCwd         Kind = "cwd"
	KindShell       Kind = "shell"
	KindHealthCheck Kind = "healthcheck"
)

// Cap is the number of values kept per kind
const Cap = 50

// compactFactor sets how many lines the log may grow to, relative to what
// it holds, before it is rewritten
const compactFactor = 4

// Kinds lists every known category
var Kinds = []Kind{KindCommand, KindCwd, KindShell, KindHealthCheck}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

type entry struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
	At    int64  `json:"at"`
}

// Store is an in-memory, capped, most-recent-last history per kind, optionally
// backed by an append-only JSON lines file
type Store struct {
	mu     sync.RWMutex
	values map[Kind][]string
	path   string
	file   *os.File
	lines  int
	logger *zap.Logger
}

// NewMemory creates a store that never touches disk
func NewMemory() *Store {
	return &Store{values: make(map[Kind][]string), logger: zap.NewNop()}
}

// Open replays the log at path, compacting it when it has grown too long, and
// keeps it open for appends. A missing file starts an empty history.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{values: make(map[Kind][]string), path: path, logger: logger}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	if s.lines > compactThreshold() {
		if err := s.compact(); err != nil {
			return nil, err
		}
	}

	f, err := s.openLog()
	if err != nil {
		return nil, err
	}
	s.file = f
	return s, nil
}

func compactThreshold() int {
	return compactFactor * Cap * len(Kinds)
}

func (s *Store) openLog() (*os.File, error) {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return f, nil
}

// Record stores value as the most recent entry of kind. Blank values and
// unknown kinds are ignored. A repeated value moves to the front.
func (s *Store) Record(kind Kind, value string) {
	value = strings.TrimSpace(value)
	if value == "" || !kind.Valid() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.push(kind, value)

	if s.file == nil {
		return
	}
	line, err := sonic.Marshal(entry{Kind: kind, Value: value, At: time.Now().UnixMilli()})
	if err != nil {
		s.logger.Warn("Failed to encode history entry", zap.Error(err))
		return
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		s.logger.Warn("Failed to append history entry", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.lines++

	if s.lines > compactThreshold() {
		s.rotateLocked()
	}
}

// rotateLocked rewrites the log while the process runs. The append handle is
// closed first so the rename also works where open files cannot be replaced.
// If the log cannot be reopened the store keeps working in memory.
func (s *Store) rotateLocked() {
	if err := s.file.Close(); err != nil {
		s.logger.Warn("Failed to close history before compaction", zap.Error(err))
	}
	s.file = nil

	if err := s.compact(); err != nil {
		s.logger.Warn("Failed to compact history", zap.String("path", s.path), zap.Error(err))
	}
	f, err := s.openLog()
	if err != nil {
		s.logger.Warn("History continues in memory only", zap.Error(err))
		return
	}
	s.file = f
}

// List returns the values of kind, most recent first
func (s *Store) List(kind Kind) []string {
	return s.Suggest(kind, "", 0)
}

// Suggest returns up to limit values of kind starting with prefix, most recent
// first. A limit of zero or less means no limit.
func (s *Store) Suggest(kind Kind, prefix string, limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := s.values[kind]
	out := make([]string, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		if !strings.HasPrefix(values[i], prefix) {
			continue
		}
		out = append(out, values[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Close releases the log file
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Store) push(kind Kind, value string) {
	list := s.values[kind]
	for i, v := range list {
		if v == value {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, value)
	if len(list) > Cap {
		list = list[len(list)-Cap:]
	}
	s.values[kind] = list
}

func (s *Store) replay() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.lines++

		var e entry
		if err := sonic.Unmarshal(line, &e); err != nil {
			s.logger.Debug("Skipping malformed history line", zap.Error(err))
			continue
		}
		if e.Kind.Valid() && strings.TrimSpace(e.Value) != "" {
			s.push(e.Kind, strings.TrimSpace(e.Value))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	return nil
}

func (s *Store) compact() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("compact history: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	lines := 0
	now := time.Now().UnixMilli()
	for _, kind := range Kinds {
		for _, v := range s.values[kind] {
			line, err := sonic.Marshal(entry{Kind: kind, Value: v, At: now})
			if err != nil {
				continue
			}
			w.Write(line)
			w.WriteByte('\n')
			lines++
		}
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("compact history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("compact history: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("compact history: %w", err)
	}

	s.logger.Debug("Compacted history", zap.Int("before", s.lines), zap.Int("after", lines))
	s.lines = lines
	return nil
}
