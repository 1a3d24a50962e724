package utils

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	BLAKE2b256 HashAlgorithm = "blake2b-256"
	// Extensible: add more algorithms here
	// SHA256 HashAlgorithm = "sha256"
)

// Hasher provides extensible hashing functionality
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{
		algorithm: algorithm,
	}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(BLAKE2b256)
}

// Algorithm returns the configured algorithm name
func (h *Hasher) Algorithm() HashAlgorithm {
	return h.algorithm
}

func (h *Hasher) newDigest() hash.Hash {
	switch h.algorithm {
	case BLAKE2b256:
		d, _ := blake2b.New256(nil)
		return d
	// Extensible: add more cases here
	default:
		// Fallback to BLAKE2b-256
		d, _ := blake2b.New256(nil)
		return d
	}
}

// Hash computes a hex-encoded digest of the input data
func (h *Hasher) Hash(data []byte) string {
	d := h.newDigest()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil))
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// HashFile streams the file at path through the digest without loading
// it into memory whole
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	d := h.newDigest()
	if _, err := io.Copy(d, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// ShortDigest returns an 8-character form of a full digest for display
func ShortDigest(full string) string {
	if len(full) < 8 {
		return full
	}
	return full[:8]
}
