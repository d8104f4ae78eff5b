// Package sha256 computes and verifies content digests of downloaded files.
package sha256

import (
	_ "crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"
)

// ErrChecksumMismatch is returned by Verify when the file does not match the hint.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Hasher produces "sha256:<hex>" digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns its digest string.
func (h *Hasher) Hash(data []byte) (string, error) {
	return digest.SHA256.FromBytes(data).String(), nil
}

// HashFile digests the file at path.
func (h *Hasher) HashFile(path string) (string, error) {
	d, err := fileDigest(digest.SHA256, path)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// Verify digests the file at path and, when hint is a well-formed
// "alg:hex" digest, checks the file against it. Hints in any other
// form are advisory and ignored.
func (h *Hasher) Verify(path, hint string) (string, error) {
	sum, err := fileDigest(digest.SHA256, path)
	if err != nil {
		return "", err
	}
	expected, err := digest.Parse(hint)
	if err != nil {
		return sum.String(), nil
	}
	actual := sum
	if expected.Algorithm() != digest.SHA256 {
		if actual, err = fileDigest(expected.Algorithm(), path); err != nil {
			return "", err
		}
	}
	if actual != expected {
		return sum.String(), fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return sum.String(), nil
}

func fileDigest(alg digest.Algorithm, path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	d, err := alg.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return d, nil
}
