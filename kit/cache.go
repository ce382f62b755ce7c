package kit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// Cache is the local digest-addressed directory described in spec §4.2:
// pulls are idempotent by digest, so once content lands under its digest it
// is never mutated (spec §3 lifecycle: "cached content is never mutated").
type Cache struct {
	Root string
}

// NewCache returns a Cache rooted at dir (the CLI uses
// <project>/.twoliter/cache/kits).
func NewCache(dir string) *Cache {
	return &Cache{Root: dir}
}

// Path returns the on-disk path content addressed by d would live at,
// mirroring OCI content-store layout: <root>/<algorithm>/<hex>.
func (c *Cache) Path(d digest.Digest) string {
	return filepath.Join(c.Root, string(d.Algorithm()), d.Hex())
}

// Has reports whether content addressed by d is already cached.
func (c *Cache) Has(d digest.Digest) bool {
	_, err := os.Stat(c.Path(d))
	return err == nil
}

// Put stores r under d, verifying the digest matches before committing.
// The write lands in a temp file in the same directory and is then renamed
// into place, so a reader never observes partial content (spec §4.2's
// no-partial-publish property, applied to single blobs too).
func (c *Cache) Put(d digest.Digest, r io.Reader) error {
	dir := filepath.Dir(c.Path(d))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	verifier := d.Verifier()
	if _, err := io.Copy(tmp, io.TeeReader(r, verifier)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if !verifier.Verified() {
		return fmt.Errorf("content does not match expected digest %s", d)
	}

	return os.Rename(tmpPath, c.Path(d))
}

// Open returns a reader for the cached content addressed by d.
func (c *Cache) Open(d digest.Digest) (*os.File, error) {
	return os.Open(c.Path(d))
}

// DirPath returns the directory a digest-addressed kit's unpacked filesystem
// is exported to (<root>/fs/<algorithm>/<hex>), kept apart from single
// blobs. It only computes the path; FetchKit creates and populates it.
func (c *Cache) DirPath(d digest.Digest) string {
	return filepath.Join(c.Root, "fs", string(d.Algorithm()), d.Hex())
}
