package lockfile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/bottlerocket-os/twoliter/internal/twerr"
	"github.com/bottlerocket-os/twoliter/project"
)

type fakeFetcher struct {
	metadata map[string]project.KitMetadata
}

func (f fakeFetcher) FetchMetadata(ctx context.Context, registryRepo string, ref project.KitReference) (project.KitMetadata, digest.Digest, error) {
	key := fmt.Sprintf("%s:%s", registryRepo, ref.Version)
	m, ok := f.metadata[key]
	if !ok {
		return project.KitMetadata{}, "", fmt.Errorf("no metadata for %s", key)
	}
	return m, digest.FromString(key), nil
}

func sdkRefString(version string) string {
	return fmt.Sprintf("reg/bottlerocket-sdk-x86_64:%s@sha256:%s", version, repeatHex('a', 64))
}

func repeatHex(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

func testProject() *project.Project {
	return &project.Project{
		Name:    "example",
		Version: "0.1.0",
		SDK:     project.SdkReference{Name: "bottlerocket-sdk", Version: "v0.50.0", Registry: "reg"},
		Vendor:  map[string]string{"core": "reg/core"},
		Variants: []project.Variant{
			{
				Name: "example-dev",
				Arch: "x86_64",
				Kits: []project.KitReference{{Name: "core", Version: "1.1.15", Vendor: "core"}},
			},
		},
	}
}

func fetcherWithCoreVersion(version string) fakeFetcher {
	return fakeFetcher{metadata: map[string]project.KitMetadata{
		fmt.Sprintf("reg/core/core:%s", version): {Kit: project.KitMetadataBody{
			Name: "core", Version: version, Arch: "x86_64", SDK: sdkRefString("v0.50.0"),
		}},
	}}
}

func TestUpdateThenVerifyRoundTrips(t *testing.T) {
	proj := testProject()
	f := fetcherWithCoreVersion("1.1.15")
	path := filepath.Join(t.TempDir(), "Twoliter.lock")

	if _, err := Update(context.Background(), proj, f, path); err != nil {
		t.Fatalf("unexpected error from Update: %v", err)
	}

	if _, err := Verify(context.Background(), proj, f, path); err != nil {
		t.Fatalf("unexpected error from Verify: %v", err)
	}
}

func TestVerifyDetectsLockDrift(t *testing.T) {
	proj := testProject()
	path := filepath.Join(t.TempDir(), "Twoliter.lock")

	if _, err := Update(context.Background(), proj, fetcherWithCoreVersion("1.1.15"), path); err != nil {
		t.Fatalf("unexpected error from Update: %v", err)
	}

	// The manifest is edited to require 1.2.0 without running update (S4).
	proj.Variants[0].Kits[0].Version = "1.2.0"
	f := fetcherWithCoreVersion("1.2.0")

	_, err := Verify(context.Background(), proj, f, path)
	if err == nil {
		t.Fatal("expected lock drift error")
	}
	if twerr.KindOf(err) != twerr.KindLockDrift {
		t.Fatalf("got kind %v, want KindLockDrift", twerr.KindOf(err))
	}
}

func TestUpdateDoesNotWriteLockOnResolveFailure(t *testing.T) {
	proj := testProject()
	path := filepath.Join(t.TempDir(), "Twoliter.lock")
	empty := fakeFetcher{metadata: map[string]project.KitMetadata{}}

	if _, err := Update(context.Background(), proj, empty, path); err == nil {
		t.Fatal("expected resolve failure")
	}

	if _, err := Read(path); err == nil {
		t.Fatal("lock file must not be written when resolve fails")
	}
}

func TestCanonicalEncodingIsDeterministic(t *testing.T) {
	proj := testProject()
	f := fetcherWithCoreVersion("1.1.15")

	pathA := filepath.Join(t.TempDir(), "a.lock")
	pathB := filepath.Join(t.TempDir(), "b.lock")

	if _, err := Update(context.Background(), proj, f, pathA); err != nil {
		t.Fatal(err)
	}
	if _, err := Update(context.Background(), proj, f, pathB); err != nil {
		t.Fatal(err)
	}

	rawA, err := os.ReadFile(pathA)
	if err != nil {
		t.Fatal(err)
	}
	rawB, err := os.ReadFile(pathB)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rawA, rawB) {
		t.Fatalf("expected byte-identical lockfiles:\n%s\nvs\n%s", rawA, rawB)
	}

	lfA, err := Read(pathA)
	if err != nil {
		t.Fatal(err)
	}
	lfB, err := Read(pathB)
	if err != nil {
		t.Fatal(err)
	}
	if diff := diff(lfA, lfB); !diff.Empty() {
		t.Fatalf("expected identical lockfiles, got drift: %+v", diff)
	}
}
