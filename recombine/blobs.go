package recombine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// BlobStore resolves content digests to fragment files under a blobs
// directory. Fragments are named sha256-<hex> regardless of the digest
// algorithm; only the encoded portion of the digest is used.
type BlobStore struct {
	root string
}

func NewBlobStore(root string) *BlobStore {
	return &BlobStore{root: root}
}

// Path returns the location of the blob named by d. It does not check that
// the blob exists.
func (b *BlobStore) Path(d digest.Digest) string {
	return filepath.Join(b.root, "sha256-"+encoded(d))
}

// Stat reports the size of the blob named by d. The returned error wraps
// fs.ErrNotExist when the blob is missing.
func (b *BlobStore) Stat(d digest.Digest) (int64, error) {
	fi, err := os.Stat(b.Path(d))
	if err != nil {
		return 0, err
	}

	if fi.IsDir() {
		return 0, fmt.Errorf("blob %s is a directory", d)
	}

	return fi.Size(), nil
}

// Open opens the blob named by d for reading and returns its size.
func (b *BlobStore) Open(d digest.Digest) (*os.File, int64, error) {
	f, err := os.Open(b.Path(d))
	if err != nil {
		return nil, 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	if fi.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("blob %s is a directory", d)
	}

	return f, fi.Size(), nil
}

func (b *BlobStore) ReadFile(d digest.Digest) ([]byte, error) {
	return os.ReadFile(b.Path(d))
}

// encoded returns the part of a digest after the algorithm separator, or
// the whole string when there is none. digest.Digest.Encoded panics on a
// missing separator, so it is not used here.
func encoded(d digest.Digest) string {
	if _, hex, ok := strings.Cut(string(d), ":"); ok {
		return hex
	}

	return string(d)
}
