package kit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
)

func TestCachePutGetRoundTrip(t *testing.T) {
	c := NewCache(t.TempDir())
	content := []byte("repodata")
	d := digest.FromBytes(content)

	if c.Has(d) {
		t.Fatal("expected cache miss before Put")
	}

	if err := c.Put(d, bytes.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Has(d) {
		t.Fatal("expected cache hit after Put")
	}

	f, err := c.Open(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "repodata" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestCachePutRejectsDigestMismatch(t *testing.T) {
	c := NewCache(t.TempDir())
	wrongDigest := digest.FromString("something else")

	err := c.Put(wrongDigest, strings.NewReader("repodata"))
	if err == nil {
		t.Fatal("expected digest mismatch error")
	}
	if c.Has(wrongDigest) {
		t.Fatal("mismatched content must not be committed to the cache")
	}
}
