// Package sha256 provides streaming SHA-256 hashing of local files.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const defaultChunkSize = 8 * 1024 * 1024

// Hasher implements pipeline.Hasher using SHA-256.
type Hasher struct {
	chunkSize int
}

// New returns a SHA-256 hasher that reads files in chunks of chunkSize bytes.
// A non-positive chunkSize selects 8 MiB.
func New(chunkSize int) *Hasher {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Hasher{chunkSize: chunkSize}
}

// HashFile hashes the file at path and returns a hex digest.
func (h *Hasher) HashFile(path string) (string, error) {
	// #nosec G304 -- paths come from pipeline descriptors.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	digest := sha256.New()
	buf := make([]byte, h.chunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("read %s: %w", path, readErr)
		}
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
