package kit

import (
	"context"
	"io"

	"github.com/containerd/containerd/content"
	"github.com/containerd/containerd/remotes"
	"github.com/containerd/containerd/remotes/docker"
	ocispecs "github.com/opencontainers/image-spec/specs-go/v1"
)

// containerdResolver adapts containerd's remotes.Resolver (the teacher's
// own registry-transport dependency) to the narrower Resolver/Fetcher/Pusher
// shapes this package defines, so a real registry client can be dropped in
// without the rest of the store caring about containerd's richer
// content.Writer/commit-by-digest API.
type containerdResolver struct {
	inner remotes.Resolver
}

// NewContainerdResolver returns a Resolver backed by containerd's docker
// registry resolver with default options: no registry credentials are
// configured, and TLS and proxy behaviour are those of the default HTTP
// client.
func NewContainerdResolver() Resolver {
	return &containerdResolver{inner: docker.NewResolver(docker.ResolverOptions{})}
}

func (r *containerdResolver) Resolve(ctx context.Context, ref string) (ocispecs.Descriptor, error) {
	_, desc, err := r.inner.Resolve(ctx, ref)
	if err != nil {
		return ocispecs.Descriptor{}, err
	}
	return desc, nil
}

func (r *containerdResolver) Fetcher(ctx context.Context, ref string) (Fetcher, error) {
	f, err := r.inner.Fetcher(ctx, ref)
	if err != nil {
		return nil, err
	}
	return containerdFetcher{f}, nil
}

func (r *containerdResolver) Pusher(ctx context.Context, ref string) (Pusher, error) {
	p, err := r.inner.Pusher(ctx, ref)
	if err != nil {
		return nil, err
	}
	return containerdPusher{p}, nil
}

type containerdFetcher struct {
	f remotes.Fetcher
}

func (f containerdFetcher) Fetch(ctx context.Context, desc ocispecs.Descriptor) (io.ReadCloser, error) {
	return f.f.Fetch(ctx, desc)
}

// containerdPusher adapts containerd's content.Writer (which commits by
// expected digest and size) down to the plain io.WriteCloser this package's
// Pusher returns, committing with the descriptor's own digest and size on
// Close.
type containerdPusher struct {
	p remotes.Pusher
}

func (p containerdPusher) Push(ctx context.Context, desc ocispecs.Descriptor) (io.WriteCloser, error) {
	w, err := p.p.Push(ctx, desc)
	if err != nil {
		return nil, err
	}
	return &committingWriter{ctx: ctx, w: w, desc: desc}, nil
}

type committingWriter struct {
	ctx  context.Context
	w    content.Writer
	desc ocispecs.Descriptor
}

func (cw *committingWriter) Write(p []byte) (int, error) { return cw.w.Write(p) }

func (cw *committingWriter) Close() error {
	if err := cw.w.Commit(cw.ctx, cw.desc.Size, cw.desc.Digest); err != nil {
		_ = cw.w.Close()
		return err
	}
	return cw.w.Close()
}
