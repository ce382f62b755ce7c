// Package lockfile implements the lockfile engine (spec §4.4): materialize
// a resolved dependency graph to Twoliter.lock in canonical form, verify an
// existing lock against a fresh re-resolution without mutating it, and
// perform the explicit update operation that re-resolves and rewrites it.
package lockfile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/pelletier/go-toml/v2"

	"github.com/bottlerocket-os/twoliter/internal/twerr"
	"github.com/bottlerocket-os/twoliter/project"
	"github.com/bottlerocket-os/twoliter/resolve"
)

// SchemaVersion is the lockfile schema this build writes and understands.
const SchemaVersion = 1

// AlgorithmID names the resolver algorithm that produced a lock, so a
// future resolver revision can tell whether it may safely trust a lock
// written by an older one (spec §4.4).
const AlgorithmID = "twoliter-resolve-v1"

// LockFile is the canonical, on-disk representation of a resolved graph.
type LockFile struct {
	SchemaVersion  int         `toml:"schema_version"`
	Algorithm      string      `toml:"algorithm"`
	ProjectVersion string      `toml:"project_version"`
	SDK            lockedSDK   `toml:"sdk"`
	Kits           []lockedKit `toml:"kits"`
}

type lockedSDK struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Registry string `toml:"registry"`
	Digest   string `toml:"digest"`
}

type lockedKit struct {
	Name      string   `toml:"name"`
	Version   string   `toml:"version"`
	Vendor    string   `toml:"vendor"`
	Digest    string   `toml:"digest"`
	SDKDigest string   `toml:"sdk_digest"`
	ArchList  []string `toml:"arch_list"`
	KitDeps   []string `toml:"kit_deps"`
}

// FromGraph converts a resolved dependency graph into its canonical
// lockfile form, sorted by (vendor, name, version) as spec §3 requires.
func FromGraph(g *resolve.Graph, projectVersion string) *LockFile {
	kits := make([]lockedKit, 0, len(g.Kits))
	for _, k := range g.Kits {
		deps := make([]string, 0, len(k.KitDeps))
		for _, d := range k.KitDeps {
			deps = append(deps, fmt.Sprintf("%s/%s@%s", d.Vendor, d.Name, d.Version))
		}
		sort.Strings(deps)
		archList := append([]string(nil), k.ArchList...)
		sort.Strings(archList)
		kits = append(kits, lockedKit{
			Name:      k.Name,
			Version:   k.Version,
			Vendor:    k.Vendor,
			Digest:    k.Digest.String(),
			SDKDigest: k.SDKDigest.String(),
			ArchList:  archList,
			KitDeps:   deps,
		})
	}
	sort.Slice(kits, func(i, j int) bool {
		a, b := kits[i], kits[j]
		if a.Vendor != b.Vendor {
			return a.Vendor < b.Vendor
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version < b.Version
	})

	return &LockFile{
		SchemaVersion:  SchemaVersion,
		Algorithm:      AlgorithmID,
		ProjectVersion: projectVersion,
		SDK: lockedSDK{
			Name:     g.SDK.Name,
			Version:  g.SDK.Version,
			Registry: g.SDK.Registry,
			Digest:   g.SDK.Digest.String(),
		},
		Kits: kits,
	}
}

// Write emits lf to path in canonical form: stable field order, LF line
// endings, no trailing whitespace, a single trailing newline.
func Write(path string, lf *LockFile) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentSymbol("  ")
	if err := enc.Encode(lf); err != nil {
		return twerr.New(twerr.KindIO, err, "encoding lockfile")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return twerr.New(twerr.KindIO, err, fmt.Sprintf("writing %s", path))
	}
	return nil
}

// Read parses an existing Twoliter.lock.
func Read(path string) (*LockFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, twerr.New(twerr.KindIO, err, fmt.Sprintf("reading %s", path))
	}
	var lf LockFile
	if err := toml.Unmarshal(b, &lf); err != nil {
		return nil, twerr.New(twerr.KindProject, err, fmt.Sprintf("parsing %s", path))
	}
	return &lf, nil
}

// Drift describes how a freshly resolved graph differs from a loaded lock
// (spec §4.4's LockDrift{added,removed,changed}).
type Drift struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether d carries no differences.
func (d Drift) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

func (d Drift) Error() string {
	return fmt.Sprintf("lock drift: added=%v removed=%v changed=%v", d.Added, d.Removed, d.Changed)
}

// Verify re-derives the graph from proj's manifests via fetcher and compares
// it against the lock at path. It never writes to path (spec §4.4: "the
// build path never mutates the lockfile"). A non-empty Drift is reported as
// a twerr.KindLockDrift error, per invariant I6.
func Verify(ctx context.Context, proj *project.Project, fetcher resolve.MetadataFetcher, path string) (*resolve.Graph, error) {
	existing, err := Read(path)
	if err != nil {
		return nil, err
	}

	g, err := resolve.Resolve(ctx, proj, fetcher)
	if err != nil {
		return nil, err
	}

	fresh := FromGraph(g, proj.Version)
	drift := diff(existing, fresh)
	if !drift.Empty() {
		return nil, twerr.New(twerr.KindLockDrift, drift, "lockfile does not match re-resolution")
	}

	return g, nil
}

// Update performs a full re-resolve (network fetches permitted) and
// rewrites the lock at path on success. The lock is not touched if
// resolution fails (spec §4.4: "the update path mutates only after a
// successful resolve to a valid graph").
func Update(ctx context.Context, proj *project.Project, fetcher resolve.MetadataFetcher, path string) (*resolve.Graph, error) {
	g, err := resolve.Resolve(ctx, proj, fetcher)
	if err != nil {
		return nil, err
	}
	lf := FromGraph(g, proj.Version)
	if err := Write(path, lf); err != nil {
		return nil, err
	}
	return g, nil
}

// diff compares two lockfiles at the kit-entry granularity: a kit present
// in only one is added/removed; a kit present in both with any differing
// field is changed. Keyed by "<vendor>/<name>" (the version is part of the
// comparison payload, so a version bump surfaces as "changed").
func diff(old, fresh *LockFile) Drift {
	key := func(k lockedKit) string { return fmt.Sprintf("%s/%s", k.Vendor, k.Name) }

	oldByKey := make(map[string]lockedKit, len(old.Kits))
	for _, k := range old.Kits {
		oldByKey[key(k)] = k
	}
	freshByKey := make(map[string]lockedKit, len(fresh.Kits))
	for _, k := range fresh.Kits {
		freshByKey[key(k)] = k
	}

	var d Drift
	for k, fk := range freshByKey {
		ok, existed := oldByKey[k]
		if !existed {
			d.Added = append(d.Added, k)
			continue
		}
		if !cmp.Equal(ok, fk) {
			d.Changed = append(d.Changed, k)
		}
	}
	for k := range oldByKey {
		if _, ok := freshByKey[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}
