package model

import (
	"crypto/md5" //nolint:gosec // content identity, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashFile returns the hex MD5 digest of the file at path. The digest is the
// photo's identity across the metadata API and the blob store.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return HashReader(f)
}

// HashReader returns the hex MD5 digest of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := md5.New() //nolint:gosec // see HashFile
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
