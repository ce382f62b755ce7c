package containerexec

import (
	"context"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/bottlerocket-os/twoliter/buildgraph"
)

type fakeEngine struct {
	stages []RunStage
}

func (f *fakeEngine) Run(ctx context.Context, stage RunStage) error {
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeEngine) CopyOut(ctx context.Context, imageRef, path string) ([]byte, error) {
	return nil, nil
}

func TestTargetForMapsEveryNodeKind(t *testing.T) {
	cases := []struct {
		kind buildgraph.Kind
		want Target
	}{
		{buildgraph.KindPackageBuild, TargetRPMBuild},
		{buildgraph.KindLocalKitBuild, TargetKitBuild},
		{buildgraph.KindVariantBuild, TargetImgBuild},
		{buildgraph.KindMigrationsBundle, TargetMigrationBuild},
		{buildgraph.KindKmodKit, TargetKmodKitBuild},
	}
	for _, c := range cases {
		got, err := TargetFor(c.kind)
		if err != nil {
			t.Fatalf("TargetFor(%v): unexpected error: %v", c.kind, err)
		}
		if got != c.want {
			t.Errorf("TargetFor(%v) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestNodeExecutorTranslatesNodeToRunStage(t *testing.T) {
	eng := &fakeEngine{}
	ne := &NodeExecutor{Engine: eng, BuildID: "build-123"}

	node := &buildgraph.Node{
		Name:       "package:hello-agent:x86_64",
		Kind:       buildgraph.KindPackageBuild,
		Arch:       "x86_64",
		Subject:    "hello-agent",
		CacheToken: digest.FromString("tok"),
	}

	if err := ne.Run(context.Background(), node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(eng.stages) != 1 {
		t.Fatalf("expected 1 stage run, got %d", len(eng.stages))
	}
	s := eng.stages[0]
	if s.Target != TargetRPMBuild {
		t.Errorf("got target %v, want %v", s.Target, TargetRPMBuild)
	}
	if s.Args.Subject != "hello-agent" || s.Args.Arch != "x86_64" || s.Args.BuildID != "build-123" {
		t.Errorf("got args %+v", s.Args)
	}
}
