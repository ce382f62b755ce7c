package containerexec

import (
	"context"

	"github.com/bottlerocket-os/twoliter/buildgraph"
)

// NodeExecutor adapts an Engine into a buildgraph.Executor, translating
// each scheduled Node into the RunStage the engine actually understands.
// BuildID is stamped onto every stage's build args (spec §6).
type NodeExecutor struct {
	Engine  Engine
	BuildID string

	// VariantRepoConfigDir maps a variant name to the composite yum repo's
	// config directory (repo.Composite.ConfigDir), mounted read-only at
	// /etc/yum.repos.d in that variant's image-build stage (spec §4.6 step 3 /
	// §4.7 run_stage mounts).
	VariantRepoConfigDir map[string]string
}

var _ buildgraph.Executor = (*NodeExecutor)(nil)

// Run implements buildgraph.Executor.
func (n *NodeExecutor) Run(ctx context.Context, node *buildgraph.Node) error {
	target, err := TargetFor(node.Kind)
	if err != nil {
		return err
	}

	stage := RunStage{
		Target: target,
		Args: BuildArgs{
			Subject: node.Subject,
			Arch:    node.Arch,
			BuildID: n.BuildID,
			Extra:   map[string]string{"CACHE_TOKEN": node.CacheToken.String()},
		},
		BypassSocketID: "twoliter-in:" + node.Name,
		OutputSocketID: "twoliter-out:" + node.Name,
	}

	if node.Kind == buildgraph.KindVariantBuild {
		if dir, ok := n.VariantRepoConfigDir[node.Subject]; ok {
			stage.Mounts = append(stage.Mounts, Mount{
				Source: dir,
				Target: "/etc/yum.repos.d",
			})
		}
	}

	return n.Engine.Run(ctx, stage)
}
