package kit

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispecs "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bottlerocket-os/twoliter/internal/backoff"
	"github.com/bottlerocket-os/twoliter/project"
)

// fakeResolver is an in-memory Resolver for exercising Store without a real
// registry: tags and digests both map to blobs kept in a map.
type fakeResolver struct {
	mu    sync.Mutex
	blobs map[digest.Digest][]byte
	tags  map[string]digest.Digest
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		blobs: make(map[digest.Digest][]byte),
		tags:  make(map[string]digest.Digest),
	}
}

func (f *fakeResolver) Resolve(ctx context.Context, ref string) (ocispecs.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if d, ok := parseAtDigest(ref); ok {
		b, ok := f.blobs[d]
		if !ok {
			return ocispecs.Descriptor{}, os.ErrNotExist
		}
		return ocispecs.Descriptor{Digest: d, Size: int64(len(b))}, nil
	}

	d, ok := f.tags[ref]
	if !ok {
		return ocispecs.Descriptor{}, os.ErrNotExist
	}
	return ocispecs.Descriptor{Digest: d, Size: int64(len(f.blobs[d]))}, nil
}

func parseAtDigest(ref string) (digest.Digest, bool) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '@' {
			d, err := digest.Parse(ref[i+1:])
			if err != nil {
				return "", false
			}
			return d, true
		}
	}
	return "", false
}

type fakeFetcher struct{ r *fakeResolver }

func (f fakeFetcher) Fetch(ctx context.Context, desc ocispecs.Descriptor) (io.ReadCloser, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	b, ok := f.r.blobs[desc.Digest]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeResolver) Fetcher(ctx context.Context, ref string) (Fetcher, error) {
	return fakeFetcher{f}, nil
}

type fakeWriter struct {
	r   *fakeResolver
	ref string
	buf bytes.Buffer
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *fakeWriter) Close() error {
	d := digest.FromBytes(w.buf.Bytes())
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	w.r.blobs[d] = w.buf.Bytes()
	w.r.tags[w.ref] = d
	return nil
}

func (f *fakeResolver) Pusher(ctx context.Context, ref string) (Pusher, error) {
	return &fakeWriter{r: f, ref: ref}, nil
}

func fastRetry() backoff.Policy {
	return backoff.Policy{Base: 0, Max: 0, MaxAttempts: 1}
}

func TestFetchMetadataDiscoversDigestByTag(t *testing.T) {
	r := newFakeResolver()
	meta := project.KitMetadata{Kit: project.KitMetadataBody{Name: "core", Version: "1.1.15"}}
	blob, err := MarshalMetadataCanonical(meta)
	if err != nil {
		t.Fatal(err)
	}
	d := digest.FromBytes(blob)
	r.blobs[d] = blob
	r.tags["registry.example/core:1.1.15-metadata"] = d

	s := NewStore(r, t.TempDir())
	s.Retry = fastRetry()

	got, gotDigest, err := s.FetchMetadata(context.Background(), "registry.example/core", project.KitReference{Name: "core", Version: "1.1.15"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDigest != d {
		t.Fatalf("got digest %s, want %s", gotDigest, d)
	}
	if got.Kit.Name != "core" {
		t.Fatalf("got %+v", got)
	}

	// Second call should be served from cache without touching the fake
	// resolver's blob map key deletion (sanity: just confirms no error path).
	if _, _, err := s.FetchMetadata(context.Background(), "registry.example/core", project.KitReference{Name: "core", Version: "1.1.15"}); err != nil {
		t.Fatalf("unexpected error on cached fetch: %v", err)
	}
}

func TestFetchKitIsIdempotentByDigest(t *testing.T) {
	r := newFakeResolver()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("repodata-xml")
	if err := tw.WriteHeader(&tar.Header{Name: "kits/core/repodata/repomd.xml", Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	d := digest.FromBytes(buf.Bytes())
	r.blobs[d] = buf.Bytes()

	s := NewStore(r, t.TempDir())
	s.Retry = fastRetry()

	dir, err := s.FetchKit(context.Background(), "registry.example/core", d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(dir + "/kits/core/repodata/repomd.xml")
	if err != nil {
		t.Fatalf("unexpected error reading extracted file: %v", err)
	}
	if string(data) != "repodata-xml" {
		t.Fatalf("got %q", data)
	}

	// Second fetch of the same digest must be a no-op (idempotent) and must
	// not require the resolver to be consulted again.
	r.blobs = map[digest.Digest][]byte{}
	dir2, err := s.FetchKit(context.Background(), "registry.example/core", d)
	if err != nil {
		t.Fatalf("unexpected error on repeat fetch: %v", err)
	}
	if dir2 != dir {
		t.Fatalf("got %q, want %q", dir2, dir)
	}
}

func TestPublishKitPushesKitAndMetadataTags(t *testing.T) {
	r := newFakeResolver()
	s := NewStore(r, t.TempDir())
	s.Retry = fastRetry()

	layoutDir := t.TempDir()
	if err := os.MkdirAll(layoutDir+"/kits/core/repodata", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(layoutDir+"/kits/core/repodata/repomd.xml", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ref := project.KitReference{Name: "core", Version: "1.1.15"}
	meta := project.KitMetadata{Kit: project.KitMetadataBody{Name: "core", Version: "1.1.15"}}

	kitDigest, err := s.PublishKit(context.Background(), "registry.example/core", ref, LocalLayout{Dir: layoutDir}, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := r.tags["registry.example/core:1.1.15"]; !ok {
		t.Fatal("kit tag was not pushed")
	}
	metaTag := fmt.Sprintf("registry.example/core:%s", MetadataTag("core", "1.1.15"))
	if _, ok := r.tags[metaTag]; !ok {
		t.Fatal("metadata tag was not pushed")
	}
	if r.tags["registry.example/core:1.1.15"] != kitDigest {
		t.Fatalf("returned digest does not match pushed kit tag")
	}
}
