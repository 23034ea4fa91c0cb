// Package storage persists the stack list as a single JSON document and
// writes shareable exports in several formats.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/GriffinCanCode/termstack/internal/shared/paths"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	// StateFile is the name of the state document inside the data dir
	StateFile = paths.StateFile
	// MaxStateSize bounds the state document read on load
	MaxStateSize = 16 * 1024 * 1024
)

var (
	// ErrStateTooLarge is returned when the state document exceeds MaxStateSize
	ErrStateTooLarge = errors.New("state file too large")
	// ErrStorageWrite wraps every failed write
	ErrStorageWrite = errors.New("failed to write state")
)

// FileStore keeps the whole stack list in one file, rewritten on every save
type FileStore struct {
	dir    string
	path   string
	mu     sync.Mutex
	logger *zap.Logger

	// fingerprint of the last document written
	last string
}

// NewFileStore creates the data dir when needed
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		path:   paths.New(dir).State(),
		logger: logger,
	}, nil
}

// Path returns the state document location
func (s *FileStore) Path() string { return s.path }

// Dir returns the data dir
func (s *FileStore) Dir() string { return s.dir }

// Load reads the stack list. A missing file is an empty list.
func (s *FileStore) Load(ctx context.Context) ([]*types.Stack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("No state file, starting empty", zap.String("path", s.path))
			return []*types.Stack{}, nil
		}
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxStateSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	if len(data) > MaxStateSize {
		return nil, ErrStateTooLarge
	}
	if len(data) == 0 {
		return []*types.Stack{}, nil
	}

	var stacks []*types.Stack
	if err := sonic.Unmarshal(data, &stacks); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if stacks == nil {
		stacks = []*types.Stack{}
	}
	return stacks, nil
}

// Save overwrites the state document atomically. A document identical to
// the last one written is skipped while the file is still present.
func (s *FileStore) Save(ctx context.Context, stacks []*types.Stack) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if stacks == nil {
		stacks = []*types.Stack{}
	}

	data, err := sonic.ConfigStd.MarshalIndent(stacks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	sum := utils.Fingerprint(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if sum == s.last {
		if _, err := os.Stat(s.path); err == nil {
			return nil
		}
	}
	if err := writeAtomic(s.dir, s.path, data); err != nil {
		return err
	}
	s.last = sum
	s.logger.Debug("State saved", zap.Int("stacks", len(stacks)), zap.Int("bytes", len(data)))
	return nil
}

// Export writes stacks to path, choosing the format from its extension
func (s *FileStore) Export(ctx context.Context, path string, stacks []*types.Stack) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(path, stacks)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return writeAtomic(dir, path, data)
}

func writeAtomic(dir, path string, data []byte) error {
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	tmpName := f.Name()
	_ = os.Chmod(tmpName, 0o600)

	defer func() {
		if f != nil {
			f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := f.Close(); err != nil {
		f = nil
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	f = nil

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return nil
}
