// Package digest computes the content identity of library files.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/mwantia/datenest/pkg/errdefs"
)

// ChunkSize bounds the read buffer so memory use is independent of file size.
const ChunkSize = 1 << 20

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// File returns the lower-case hex SHA-256 of the file's full content.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	defer f.Close()

	sum, _, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("%w: while hashing '%s': %v", errdefs.ErrIOFailure, path, err)
	}
	return sum, nil
}

// Reader consumes r to EOF and returns its digest and length.
func Reader(r io.Reader) (string, int64, error) {
	hasher := sha256.New()
	n, err := io.CopyBuffer(hasher, r, make([]byte, ChunkSize))
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// Valid reports whether s looks like a digest produced by this package.
func Valid(s string) bool {
	return hexDigest.MatchString(s)
}
