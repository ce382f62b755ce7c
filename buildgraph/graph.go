package buildgraph

import (
	"fmt"

	"github.com/bottlerocket-os/twoliter/internal/dag"
	"github.com/bottlerocket-os/twoliter/project"
	"github.com/bottlerocket-os/twoliter/resolve"
)

// Graph is the scheduled build DAG for one variant: every package it
// requires (directly or via a local kit), every local kit it depends on,
// the variant's own build node, and its auxiliary migrations-bundle and
// kmod-kit nodes.
type Graph struct {
	dag   *dag.Graph
	nodes map[string]*Node
}

// Node looks up a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// TopoOrder returns node names with every dependency preceding its
// dependents.
func (g *Graph) TopoOrder() ([]string, error) {
	order, err := g.dag.TopoSort()
	if err != nil {
		if cycleErr, ok := err.(*dag.CycleError); ok {
			return nil, fmt.Errorf("build graph cycle: %v", cycleErr.Path)
		}
		return nil, err
	}
	return order, nil
}

// Nodes returns every node in the graph, unordered.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Build constructs the build graph for one variant of proj, given its
// resolved external-kit graph rg and projectRoot (used to hash package
// source directories for cache tokens).
func Build(proj *project.Project, rg *resolve.Graph, variantName, projectRoot string) (*Graph, error) {
	variant, ok := findVariant(proj, variantName)
	if !ok {
		return nil, fmt.Errorf("unknown variant %q", variantName)
	}

	g := &Graph{dag: dag.New(), nodes: make(map[string]*Node)}

	packagesByName := make(map[string]project.Package, len(proj.Packages))
	for _, p := range proj.Packages {
		packagesByName[p.Name] = p
	}
	localKitsByName := make(map[string]project.LocalKit, len(proj.LocalKits))
	for _, lk := range proj.LocalKits {
		localKitsByName[lk.Name] = lk
	}
	externalByName := make(map[string]project.ResolvedKit, len(rg.Kits))
	for _, k := range rg.Kits {
		externalByName[k.Name] = k
	}

	var addPackage func(name string) (string, error)
	addPackage = func(name string) (string, error) {
		nodeName := PackageBuildName(name, variant.Arch)
		if _, ok := g.nodes[nodeName]; ok {
			return nodeName, nil
		}
		pkg, ok := packagesByName[name]
		if !ok {
			return "", fmt.Errorf("variant %q requires unknown package %q", variant.Name, name)
		}

		srcDigest, err := hashDir(projectRoot + "/" + pkg.Dir)
		if err != nil {
			return "", fmt.Errorf("hashing package %q sources: %w", name, err)
		}

		var deps []string
		tokenInputs := []string{srcDigest.String(), rg.SDK.Digest.String()}
		for _, dep := range pkg.PackageDeps {
			depNode, err := addPackage(dep)
			if err != nil {
				return "", err
			}
			deps = append(deps, depNode)
			g.dag.AddEdge(nodeName, depNode)
			tokenInputs = append(tokenInputs, g.nodes[depNode].CacheToken.String())
		}
		for _, kd := range pkg.KitDeps {
			rk, ok := externalByName[kd.Name]
			if !ok {
				return "", fmt.Errorf("package %q depends on unresolved kit %q", name, kd.Name)
			}
			tokenInputs = append(tokenInputs, rk.Digest.String())
		}

		g.dag.AddNode(nodeName)
		g.nodes[nodeName] = newNode(nodeName, KindPackageBuild, variant.Arch, name, deps, CacheToken(tokenInputs...))
		return nodeName, nil
	}

	var addLocalKit func(name string) (string, error)
	addLocalKit = func(name string) (string, error) {
		nodeName := LocalKitBuildName(name, variant.Arch)
		if _, ok := g.nodes[nodeName]; ok {
			return nodeName, nil
		}
		lk, ok := localKitsByName[name]
		if !ok {
			return "", fmt.Errorf("variant %q requires unknown local kit %q", variant.Name, name)
		}

		var deps []string
		tokenInputs := []string{rg.SDK.Digest.String()}
		for _, pkgName := range lk.Packages {
			depNode, err := addPackage(pkgName)
			if err != nil {
				return "", err
			}
			deps = append(deps, depNode)
			g.dag.AddEdge(nodeName, depNode)
			tokenInputs = append(tokenInputs, g.nodes[depNode].CacheToken.String())
		}
		for _, ext := range lk.ExternalDeps {
			rk, ok := externalByName[ext.Name]
			if !ok {
				return "", fmt.Errorf("local kit %q depends on unresolved kit %q", name, ext.Name)
			}
			tokenInputs = append(tokenInputs, rk.Digest.String())
		}

		g.dag.AddNode(nodeName)
		g.nodes[nodeName] = newNode(nodeName, KindLocalKitBuild, variant.Arch, name, deps, CacheToken(tokenInputs...))
		return nodeName, nil
	}

	variantNodeName := VariantBuildName(variant.Name, variant.Arch)
	var variantDeps []string
	tokenInputs := []string{variant.Name, variant.Arch, rg.SDK.Digest.String(), imageParamsToken(variant.Image)}

	for _, pkgName := range variant.Packages {
		depNode, err := addPackage(pkgName)
		if err != nil {
			return nil, err
		}
		variantDeps = append(variantDeps, depNode)
		g.dag.AddEdge(variantNodeName, depNode)
		tokenInputs = append(tokenInputs, g.nodes[depNode].CacheToken.String())
	}
	for _, ref := range variant.Kits {
		if lk, ok := localKitsByName[ref.Name]; ok {
			depNode, err := addLocalKit(lk.Name)
			if err != nil {
				return nil, err
			}
			variantDeps = append(variantDeps, depNode)
			g.dag.AddEdge(variantNodeName, depNode)
			tokenInputs = append(tokenInputs, g.nodes[depNode].CacheToken.String())
			continue
		}
		rk, ok := externalByName[ref.Name]
		if !ok {
			return nil, fmt.Errorf("variant %q depends on unresolved kit %q", variant.Name, ref.Name)
		}
		// External kits are not scheduled as nodes (they are fetched by C2,
		// not built); only their digest feeds the variant's cache token.
		tokenInputs = append(tokenInputs, rk.Digest.String())
	}

	g.dag.AddNode(variantNodeName)
	g.nodes[variantNodeName] = newNode(variantNodeName, KindVariantBuild, variant.Arch, variant.Name, variantDeps, CacheToken(tokenInputs...))

	// Auxiliary nodes: derivable from the same package set as the variant,
	// so they share its dependency edges and token inputs (spec §4.5).
	for _, aux := range []struct {
		name string
		kind Kind
	}{
		{MigrationsBundleName(variant.Name, variant.Arch), KindMigrationsBundle},
		{KmodKitName(variant.Name, variant.Arch), KindKmodKit},
	} {
		g.dag.AddNode(aux.name)
		for _, dep := range variantDeps {
			g.dag.AddEdge(aux.name, dep)
		}
		g.nodes[aux.name] = newNode(aux.name, aux.kind, variant.Arch, variant.Name, variantDeps, CacheToken(append(append([]string(nil), tokenInputs...), aux.name)...))
	}

	return g, nil
}

func findVariant(proj *project.Project, name string) (project.Variant, bool) {
	for _, v := range proj.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return project.Variant{}, false
}

func imageParamsToken(p project.ImageParams) string {
	inputs := []string{p.PartitionPlan, p.ImageFormat}
	inputs = append(inputs, p.KernelParams...)
	for k, v := range p.Features {
		if v {
			inputs = append(inputs, "feature:"+k)
		}
	}
	return CacheToken(inputs...).String()
}
