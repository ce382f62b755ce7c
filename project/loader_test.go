package project

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeExampleProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "Twoliter.toml"), `
schema_version = 1

[project]
name = "example-dev"
version = "0.1.0"

[sdk]
name = "bottlerocket-sdk"
version = "v0.50.0"
registry = "public.ecr.aws/bottlerocket"

[vendor]
core = "public.ecr.aws/bottlerocket"
`)

	writeFile(t, filepath.Join(root, "packages", "hello-agent", "Package.toml"), `
package_deps = []
`)

	writeFile(t, filepath.Join(root, "kits", "hello-dev-kit", "Kit.toml"), `
packages = ["hello-agent"]
`)

	writeFile(t, filepath.Join(root, "variants", "example-dev", "Variant.toml"), `
arch = "x86_64"
packages = ["hello-agent"]

[image]
partition_plan = "split"
image_format = "raw"
kernel_params = ["console=ttyS0"]
`)

	return root
}

func TestFindRootWalksAncestors(t *testing.T) {
	root := writeExampleProject(t)
	nested := filepath.Join(root, "variants", "example-dev")

	found, err := FindRoot(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != root {
		t.Fatalf("got %q, want %q", found, root)
	}
}

func TestFindRootNotFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := FindRoot(dir); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadS1Project(t *testing.T) {
	root := writeExampleProject(t)

	p, err := Load(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Name != "example-dev" || p.Version != "0.1.0" {
		t.Fatalf("got name=%q version=%q", p.Name, p.Version)
	}
	if len(p.Packages) != 1 || p.Packages[0].Name != "hello-agent" {
		t.Fatalf("got packages=%v", p.Packages)
	}
	if len(p.LocalKits) != 1 || p.LocalKits[0].Name != "hello-dev-kit" {
		t.Fatalf("got kits=%v", p.LocalKits)
	}
	if len(p.Variants) != 1 || p.Variants[0].Arch != "x86_64" {
		t.Fatalf("got variants=%v", p.Variants)
	}
}

func TestLoadRejectsUnsupportedSchema(t *testing.T) {
	root := writeExampleProject(t)
	writeFile(t, filepath.Join(root, "Twoliter.toml"), `
schema_version = 99

[project]
name = "x"
version = "0.1.0"

[sdk]
name = "sdk"
version = "v0.50.0"
registry = "reg"
`)

	_, err := Load(root)
	if err == nil {
		t.Fatal("expected schema error")
	}
}
