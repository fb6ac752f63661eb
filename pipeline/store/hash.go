package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashBytes returns the hex-encoded SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader returns the hex-encoded SHA-256 digest of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the content hash of the file at path.
//
// Only the bytes are hashed; renaming or touching the file does not change
// the result.
func HashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is the user-selected input file
	if err != nil {
		return "", fmt.Errorf("failed to open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	return HashReader(f)
}
