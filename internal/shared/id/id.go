// Package id provides centralized ID generation for termstack.
//
// Every identifier is a ULID with a type prefix (stk_*, term_*, conn_*) so that
// log lines are readable and ids of different kinds never collide:
//   - Lexicographic sortability: ids created later sort later
//   - Prefixed types: the prefix names the entity kind
//   - Type safety: separate Go types prevent passing a stack id as a terminal id
//
// Stack and terminal ids are regenerated each time the persisted state is
// loaded, so they are only stable for the lifetime of one process.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// StackID identifies a stack (palette)
type StackID string

// TerminalID identifies a terminal within a stack
type TerminalID string

// ConnID identifies a client connection
type ConnID string

const (
	StackPrefix    = "stk"
	TerminalPrefix = "term"
	ConnPrefix     = "conn"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
// Monotonic entropy keeps ids created within the same millisecond ordered.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewStackID generates a new stack ID
func NewStackID() StackID {
	return StackID(Default().GenerateWithPrefix(StackPrefix))
}

// NewTerminalID generates a new terminal ID
func NewTerminalID() TerminalID {
	return TerminalID(Default().GenerateWithPrefix(TerminalPrefix))
}

// NewConnID generates a new connection ID
func NewConnID() ConnID {
	return ConnID(Default().GenerateWithPrefix(ConnPrefix))
}

func (id StackID) String() string    { return string(id) }
func (id TerminalID) String() string { return string(id) }
func (id ConnID) String() string     { return string(id) }

// Prefix returns the type prefix of a prefixed id, or "" if it has none
func Prefix(s string) string {
	i := strings.IndexByte(s, '_')
	if i <= 0 {
		return ""
	}
	return s[:i]
}

// IsValid reports whether s is a prefixed id whose suffix is a valid ULID
func IsValid(s string) bool {
	i := strings.IndexByte(s, '_')
	if i <= 0 {
		return false
	}
	_, err := ulid.Parse(s[i+1:])
	return err == nil
}

// Timestamp extracts the creation time from a prefixed id
func Timestamp(s string) (time.Time, error) {
	i := strings.IndexByte(s, '_')
	parsed, err := ulid.Parse(s[i+1:])
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
