package buildgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/bottlerocket-os/twoliter/project"
	"github.com/bottlerocket-os/twoliter/resolve"
)

func writePackageDir(t *testing.T, root, name string, content string) string {
	t.Helper()
	dir := filepath.Join(root, "packages", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg.spec"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return filepath.Join("packages", name)
}

func testProjectWithPackages(t *testing.T, root string) *project.Project {
	t.Helper()
	agentDir := writePackageDir(t, root, "hello-agent", "Name: hello-agent\n")

	return &project.Project{
		Root:    root,
		Name:    "example",
		Version: "0.1.0",
		SDK:     project.SdkReference{Name: "bottlerocket-sdk", Version: "v0.50.0", Registry: "reg", Digest: digest.FromString("sdk")},
		Packages: []project.Package{
			{Name: "hello-agent", Dir: agentDir},
		},
		LocalKits: []project.LocalKit{
			{Name: "hello-dev-kit", Dir: "kits/hello-dev-kit", Packages: []string{"hello-agent"}},
		},
		Variants: []project.Variant{
			{
				Name:     "example-dev",
				Dir:      "variants/example-dev",
				Arch:     "x86_64",
				Packages: nil,
				Kits:     []project.KitReference{{Name: "hello-dev-kit"}},
			},
		},
	}
}

func TestBuildProducesExpectedNodes(t *testing.T) {
	root := t.TempDir()
	proj := testProjectWithPackages(t, root)
	rg := &resolve.Graph{SDK: proj.SDK}

	g, err := Build(proj, rg, "example-dev", root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantNames := []string{
		PackageBuildName("hello-agent", "x86_64"),
		LocalKitBuildName("hello-dev-kit", "x86_64"),
		VariantBuildName("example-dev", "x86_64"),
		MigrationsBundleName("example-dev", "x86_64"),
		KmodKitName("example-dev", "x86_64"),
	}
	for _, name := range wantNames {
		if _, ok := g.Node(name); !ok {
			t.Errorf("missing node %q", name)
		}
	}

	order, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	pkgName := PackageBuildName("hello-agent", "x86_64")
	kitName := LocalKitBuildName("hello-dev-kit", "x86_64")
	variantName := VariantBuildName("example-dev", "x86_64")
	if pos[pkgName] >= pos[kitName] {
		t.Errorf("package must precede local kit in topo order: %v", order)
	}
	if pos[kitName] >= pos[variantName] {
		t.Errorf("local kit must precede variant in topo order: %v", order)
	}
}

func TestCacheTokenIsDeterministicAcrossRebuilds(t *testing.T) {
	root := t.TempDir()
	proj := testProjectWithPackages(t, root)
	rg := &resolve.Graph{SDK: proj.SDK}

	g1, err := Build(proj, rg, "example-dev", root)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := Build(proj, rg, "example-dev", root)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		PackageBuildName("hello-agent", "x86_64"),
		VariantBuildName("example-dev", "x86_64"),
	} {
		n1, _ := g1.Node(name)
		n2, _ := g2.Node(name)
		if n1.CacheToken != n2.CacheToken {
			t.Errorf("node %q token changed across identical rebuilds: %s != %s", name, n1.CacheToken, n2.CacheToken)
		}
	}
}

func TestCacheTokenChangesWithPackageContent(t *testing.T) {
	root := t.TempDir()
	proj := testProjectWithPackages(t, root)
	rg := &resolve.Graph{SDK: proj.SDK}

	before, err := Build(proj, rg, "example-dev", root)
	if err != nil {
		t.Fatal(err)
	}

	writePackageDir(t, root, "hello-agent", "Name: hello-agent\nVersion: 2\n")

	after, err := Build(proj, rg, "example-dev", root)
	if err != nil {
		t.Fatal(err)
	}

	name := PackageBuildName("hello-agent", "x86_64")
	nb, _ := before.Node(name)
	na, _ := after.Node(name)
	if nb.CacheToken == na.CacheToken {
		t.Fatal("expected cache token to change when package source content changes")
	}
}
