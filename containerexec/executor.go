// Package containerexec implements the container executor interface
// (spec §4.7): a narrow, typed facade over the external container engine
// that runs one named recipe stage per build node and copies artifacts out,
// with no knowledge of project semantics.
package containerexec

import (
	"context"
	"fmt"

	"github.com/bottlerocket-os/twoliter/buildgraph"
)

// Target names the Dockerfile stage a node's recipe runs (spec §6's
// documented target list).
type Target string

const (
	TargetRPMBuild       Target = "rpmbuild"
	TargetKitBuild       Target = "kitbuild"
	TargetImgBuild       Target = "imgbuild"
	TargetMigrationBuild Target = "migrationbuild"
	TargetKmodKitBuild   Target = "kmodkitbuild"
)

// TargetFor maps a build node's kind to the Dockerfile target that builds
// it (spec §6).
func TargetFor(k buildgraph.Kind) (Target, error) {
	switch k {
	case buildgraph.KindPackageBuild:
		return TargetRPMBuild, nil
	case buildgraph.KindLocalKitBuild:
		return TargetKitBuild, nil
	case buildgraph.KindVariantBuild:
		return TargetImgBuild, nil
	case buildgraph.KindMigrationsBundle:
		return TargetMigrationBuild, nil
	case buildgraph.KindKmodKit:
		return TargetKmodKitBuild, nil
	default:
		return "", fmt.Errorf("no recipe target for build node kind %v", k)
	}
}

// BuildArgs are the documented build arguments for a stage (spec §6:
// "package/kit identities, architecture, build id, feature flags").
type BuildArgs struct {
	Subject string
	Arch    string
	BuildID string
	Extra   map[string]string
}

func (a BuildArgs) toMap() map[string]string {
	out := map[string]string{
		"SUBJECT":  a.Subject,
		"ARCH":     a.Arch,
		"BUILD_ID": a.BuildID,
	}
	for k, v := range a.Extra {
		out[k] = v
	}
	return out
}

// Mount is a read-only bind mount provided to a stage (e.g. the composite
// repo's staging root and config directory, spec §4.6 step 3).
type Mount struct {
	Source string
	Target string
}

// Secret identifies a secret the engine mounts into the stage via its
// native secret-mount mechanism (spec §4.7 / §7: "never written into layers
// or recipe args").
type Secret struct {
	ID       string
	Optional bool
}

// RunStage is the typed facade spec §4.7 names directly: run_stage(target,
// args, mounts, secrets, bypass_socket_fd, output_socket_fd) -> exit_status.
// BypassSocketID/OutputSocketID name channels registered on a
// *buildgraph.HandoffChannel rather than raw file descriptors, since the
// hand-off is mediated by a buildkit session attachable (spec §4.5).
type RunStage struct {
	Target          Target
	Args            BuildArgs
	Mounts          []Mount
	Secrets         []Secret
	BypassSocketID  string
	OutputSocketID  string
}

// Engine is the narrow contract an Executor drives; exactly one real
// implementation exists per deployment (BuildkitExecutor or LocalExecutor).
type Engine interface {
	Run(ctx context.Context, stage RunStage) error
	CopyOut(ctx context.Context, imageRef, path string) ([]byte, error)
}
