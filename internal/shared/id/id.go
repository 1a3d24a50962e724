// Package id provides centralized ID generation for the backend.
//
// All identifiers are ULIDs with a type prefix:
//   - Lexicographic sortability: session lists come back in creation order
//   - Prefixed types: kern_*, term_*, req_* make logs readable
//   - Type safety: separate types prevent ID misuse across tables
//
// Kernel ids are allocated before the subprocess exists, so they carry no
// process-derived state.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// KernelID identifies one managed kernel session.
type KernelID string

// TerminalID identifies a PTY terminal session.
type TerminalID string

// RequestID identifies an API request or trace.
type RequestID string

const (
	KernelPrefix   = "kern"
	TerminalPrefix = "term"
	RequestPrefix  = "req"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewKernelID generates a new kernel session ID.
func NewKernelID() KernelID {
	return KernelID(Default().GenerateWithPrefix(KernelPrefix))
}

// NewTerminalID generates a new terminal session ID.
func NewTerminalID() TerminalID {
	return TerminalID(Default().GenerateWithPrefix(TerminalPrefix))
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id KernelID) String() string   { return string(id) }
func (id TerminalID) String() string { return string(id) }
func (id RequestID) String() string  { return string(id) }

// IsValid checks whether an ID carries the given prefix followed by a
// parseable ULID.
func IsValid(id, prefix string) bool {
	head := prefix + "_"
	if len(id) <= len(head) || id[:len(head)] != head {
		return false
	}
	_, err := ulid.Parse(id[len(head):])
	return err == nil
}

// Timestamp extracts the creation time embedded in a prefixed ID.
func Timestamp(id, prefix string) (time.Time, error) {
	head := prefix + "_"
	if len(id) <= len(head) || id[:len(head)] != head {
		return time.Time{}, fmt.Errorf("id %q does not carry prefix %q", id, prefix)
	}
	parsed, err := ulid.Parse(id[len(head):])
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
