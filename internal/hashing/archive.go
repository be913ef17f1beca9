package hashing

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Kind identifies a supported archive container format.
type Kind string

const (
	KindZip     Kind = "zip"
	KindTar     Kind = "tar"
	KindTarGzip Kind = "tar.gz"
	KindTarZstd Kind = "tar.zst"
)

// ErrNotArchive is returned when bytes are not a recognized archive.
var ErrNotArchive = errors.New("hashing: not a supported archive")

// DetectArchive sniffs the container format of a payload. Only formats
// that can carry a directory tree are recognized.
func DetectArchive(data []byte) (Kind, bool) {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{'P', 'K', 0x03, 0x04}):
		return KindZip, true
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		return KindTarGzip, true
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return KindTarZstd, true
	case len(data) >= 262 && bytes.Equal(data[257:262], []byte("ustar")):
		return KindTar, true
	}
	return "", false
}

// HashArchive returns the pkhash of an archive's logical content: the
// same combined digest HashTree would produce for the unpacked tree.
// Recompressing or reordering members does not change the result.
func HashArchive(data []byte) (string, error) {
	kind, ok := DetectArchive(data)
	if !ok {
		return "", ErrNotArchive
	}

	switch kind {
	case KindZip:
		return hashZip(data)
	case KindTar:
		return hashTar(bytes.NewReader(data))
	case KindTarGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		return hashTar(zr)
	case KindTarZstd:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		return hashTar(zr)
	}
	return "", ErrNotArchive
}

func hashZip(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("zip reader: %w", err)
	}

	var entries []entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open zip member %s: %w", f.Name, err)
		}
		sum, err := HashReader(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("hash zip member %s: %w", f.Name, err)
		}
		entries = append(entries, entry{path: f.Name, sum: sum})
	}
	return combine(entries), nil
}

func hashTar(r io.Reader) (string, error) {
	tr := tar.NewReader(r)

	var entries []entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("tar next: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		sum, err := HashReader(tr)
		if err != nil {
			return "", fmt.Errorf("hash tar member %s: %w", hdr.Name, err)
		}
		entries = append(entries, entry{path: hdr.Name, sum: sum})
	}
	return combine(entries), nil
}
