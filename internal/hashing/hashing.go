// Package hashing computes content-addressed keys (pkhash) for asset
// payloads. A pkhash is the lowercase hex SHA256 of the payload bytes,
// or for multi-file content a deterministic digest over the sorted set
// of (relative path, file hash) pairs.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

var (
	// ErrNotFound is returned when the path to hash does not exist.
	ErrNotFound = errors.New("hashing: path not found")

	// ErrInvalidInput is returned when the input is neither a regular
	// file nor a directory.
	ErrInvalidInput = errors.New("hashing: invalid input")
)

// HashBytes returns the pkhash of a byte payload.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashReader returns the pkhash of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash reader: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the pkhash of a single file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return HashReader(f)
}

// entry is one (relative path, content hash) pair of a logical tree.
type entry struct {
	path string
	sum  string
}

// combine folds a set of entries into a single digest. Entries are
// sorted by path first, so the result is independent of the order in
// which the tree was walked.
func combine(entries []entry) string {
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.path))
		h.Write([]byte{0})
		h.Write([]byte(e.sum))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashTree returns the pkhash of a directory tree: the combined digest
// of every regular file's (relative path, hash) pair. The same logical
// content yields the same digest on every platform.
func HashTree(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return "", fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidInput, dir)
	}

	var entries []entry
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		sum, err := HashFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{path: filepath.ToSlash(rel), sum: sum})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", dir, err)
	}

	return combine(entries), nil
}

// HashPath hashes a file or a directory tree depending on what the
// path points at.
func HashPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	switch {
	case info.IsDir():
		return HashTree(path)
	case info.Mode().IsRegular():
		return HashFile(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidInput, path)
	}
}

// Verify reports whether data hashes to the expected pkhash.
func Verify(data []byte, expected string) bool {
	return HashBytes(data) == expected
}
