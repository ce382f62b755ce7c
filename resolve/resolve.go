// Package resolve implements the dependency resolver (spec §4.3): from
// declared direct kit dependencies, produce a fully expanded, locked graph
// satisfying the single-SDK, exact-version-unification, acyclic, and
// arch-coverage invariants (I1-I4).
package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/opencontainers/go-digest"

	"github.com/bottlerocket-os/twoliter/internal/dag"
	"github.com/bottlerocket-os/twoliter/kit"
	"github.com/bottlerocket-os/twoliter/project"
)

// MetadataFetcher is the subset of the OCI kit store resolve needs: fetch a
// kit's metadata by name+version, discovering its digest. *kit.Store
// satisfies this without any adapter.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, registryRepo string, ref project.KitReference) (project.KitMetadata, digest.Digest, error)
}

// Graph is the fully expanded, locked dependency graph: one SDK and the
// transitive closure of resolved kits, sorted by (vendor, name, version)
// for deterministic lockfile emission (spec §3).
type Graph struct {
	SDK  project.SdkReference
	Kits []project.ResolvedKit
}

type visitedKit struct {
	ref        project.KitReference
	resolved   project.ResolvedKit
	depRefs    []project.KitReference
	requiredBy []string
}

// Resolve runs the algorithm in spec §4.3 over proj's direct dependencies
// (every variant's Kits and every local kit's ExternalDeps), using fetcher
// to pull external kit metadata.
func Resolve(ctx context.Context, proj *project.Project, fetcher MetadataFetcher) (*Graph, error) {
	frontier := seedFrontier(proj)

	visited := make(map[string]*visitedKit)
	sdk := proj.SDK
	g := dag.New()

	for len(frontier) > 0 {
		ref := frontier[0]
		frontier = frontier[1:]

		if v, ok := visited[ref.Name]; ok {
			if v.ref.Version != ref.Version {
				return nil, ErrKitVersionConflict(ref.Name, []string{v.ref.Version, ref.Version}, v.requiredBy)
			}
			continue
		}

		regRepo, err := ref.RegistryRef(proj.Vendor)
		if err != nil {
			return nil, err
		}

		meta, d, err := fetcher.FetchMetadata(ctx, regRepo, ref)
		if err != nil {
			return nil, ErrMetadataMissing(regRepo+":"+ref.Version, err)
		}

		nodeSDK, err := kit.ParseImageRef(meta.Kit.SDK)
		if err != nil {
			return nil, fmt.Errorf("kit %q: %w", ref.Name, err)
		}

		candidateSDK := project.SdkReference{
			Name:     nodeSDK.Name,
			Version:  nodeSDK.Version,
			Registry: nodeSDK.Registry,
			Digest:   nodeSDK.Digest,
		}

		if sdk.Digest == "" && sdk.Name == "" {
			sdk = candidateSDK
		} else if !sdk.Matches(candidateSDK) {
			return nil, ErrSdkConflict(ref.Name, sdk.String(), candidateSDK.String())
		} else if sdk.Digest == "" {
			sdk.Digest = candidateSDK.Digest
		}

		depRefs := make([]project.KitReference, 0, len(meta.Kit.Dependencies))
		depNames := make([]string, 0, len(meta.Kit.Dependencies))
		for _, depStr := range meta.Kit.Dependencies {
			depImg, err := kit.ParseImageRef(depStr)
			if err != nil {
				return nil, fmt.Errorf("kit %q dependency: %w", ref.Name, err)
			}
			depRef := project.KitReference{Name: depImg.Name, Version: depImg.Version, Vendor: vendorFor(proj.Vendor, depImg.Registry)}
			depRefs = append(depRefs, depRef)
			depNames = append(depNames, depImg.Name)

			frontier = append(frontier, depRef)
			g.AddEdge(ref.Name, depImg.Name)
		}
		g.AddNode(ref.Name)

		resolved := project.ResolvedKit{
			KitReference: ref,
			Digest:       d,
			SDKDigest:    candidateSDK.Digest,
			ArchList:     []string{meta.Kit.Arch},
		}

		visited[ref.Name] = &visitedKit{ref: ref, resolved: resolved, depRefs: depRefs, requiredBy: []string{ref.Name}}
	}

	if _, err := g.TopoSort(); err != nil {
		if cycleErr, ok := err.(*dag.CycleError); ok {
			return nil, ErrDependencyCycle(cycleErr.Path)
		}
		return nil, err
	}

	// Second pass: now that every node has been visited, fill in each
	// node's fully resolved KitDeps (spec §3's locked KitReference carries
	// resolved dependencies, not just names).
	for name, v := range visited {
		deps := make([]project.ResolvedKit, 0, len(v.depRefs))
		for _, depRef := range v.depRefs {
			depNode, ok := visited[depRef.Name]
			if !ok {
				return nil, fmt.Errorf("kit %q: dependency %q was never visited", name, depRef.Name)
			}
			deps = append(deps, depNode.resolved)
		}
		v.resolved.KitDeps = deps
		visited[name] = v
	}

	if err := checkArchCoverage(proj, visited); err != nil {
		return nil, err
	}

	kits := make([]project.ResolvedKit, 0, len(visited))
	for _, v := range visited {
		kits = append(kits, v.resolved)
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

	return &Graph{SDK: sdk, Kits: kits}, nil
}

// seedFrontier gathers every direct external kit reference declared by any
// variant or local kit (spec §4.3 step 1). Local kits themselves are not
// fetched here; they are built by the build graph driver (C5).
func seedFrontier(proj *project.Project) []project.KitReference {
	var out []project.KitReference
	for _, v := range proj.Variants {
		out = append(out, v.Kits...)
	}
	for _, lk := range proj.LocalKits {
		out = append(out, lk.ExternalDeps...)
	}
	return out
}

func vendorFor(vendorTable map[string]string, registry string) string {
	for vendor, prefix := range vendorTable {
		if prefix == registry {
			return vendor
		}
	}
	return registry
}

// checkArchCoverage enforces invariant I4: every kit a variant depends on
// must declare that variant's architecture.
func checkArchCoverage(proj *project.Project, visited map[string]*visitedKit) error {
	for _, v := range proj.Variants {
		for _, ref := range v.Kits {
			vk, ok := visited[ref.Name]
			if !ok {
				continue
			}
			if !vk.resolved.SupportsArch(v.Arch) {
				return ErrArchUnsupported(v.Name, ref.Name, v.Arch)
			}
		}
	}
	return nil
}
