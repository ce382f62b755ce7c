// Command twoliter is the CLI entrypoint: a thin wrapper that wires the
// project loader, resolver, lockfile engine, build graph driver, composite
// repo builder, and container executor together. All real logic lives in
// the library packages; this file only parses arguments and reports the
// resulting error's twerr.Kind as a process exit code (spec §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/moby/buildkit/client"
	"github.com/sirupsen/logrus"

	"github.com/bottlerocket-os/twoliter/buildgraph"
	"github.com/bottlerocket-os/twoliter/containerexec"
	"github.com/bottlerocket-os/twoliter/internal/twerr"
	"github.com/bottlerocket-os/twoliter/kit"
	"github.com/bottlerocket-os/twoliter/lockfile"
	"github.com/bottlerocket-os/twoliter/project"
	"github.com/bottlerocket-os/twoliter/repo"
	"github.com/bottlerocket-os/twoliter/resolve"
)

// LockFileName is Twoliter.lock's fixed name, sibling to Twoliter.toml.
const LockFileName = "Twoliter.lock"

func main() {
	logrus.SetOutput(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		usage()
		os.Exit(twerr.KindUsage.ExitCode())
	}

	var err error
	switch os.Args[1] {
	case "update":
		err = runUpdate(ctx, os.Args[2:])
	case "build":
		err = runBuild(ctx, os.Args[2:])
	case "verify":
		err = runVerify(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(twerr.KindUsage.ExitCode())
	}

	if err != nil {
		logrus.WithError(err).WithField("kind", twerr.KindOf(err)).Error("twoliter failed")
		os.Exit(twerr.KindOf(err).ExitCode())
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: twoliter <update|verify|build> [flags]")
}

// loadProject finds and loads the project rooted at (or above) dir.
func loadProject(dir string) (*project.Project, error) {
	root, err := project.FindRoot(dir)
	if err != nil {
		return nil, err
	}
	return project.Load(root)
}

// newStore builds the OCI kit store used to fetch kit metadata and layers,
// caching under <root>/.twoliter/cache/kits (spec §4.2).
func newStore(proj *project.Project) *kit.Store {
	cacheDir := filepath.Join(proj.Root, ".twoliter", "cache", "kits")
	return kit.NewStore(kit.NewContainerdResolver(), cacheDir)
}

func runUpdate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	dir := fs.String("C", ".", "project directory")
	if err := fs.Parse(args); err != nil {
		return twerr.New(twerr.KindUsage, err)
	}

	proj, err := loadProject(*dir)
	if err != nil {
		return err
	}

	store := newStore(proj)
	lockPath := filepath.Join(proj.Root, LockFileName)

	rg, err := lockfile.Update(ctx, proj, store, lockPath)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"kits": len(rg.Kits),
		"sdk":  rg.SDK.String(),
	}).Info("lockfile updated")
	return nil
}

func runVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	dir := fs.String("C", ".", "project directory")
	if err := fs.Parse(args); err != nil {
		return twerr.New(twerr.KindUsage, err)
	}

	proj, err := loadProject(*dir)
	if err != nil {
		return err
	}

	store := newStore(proj)
	lockPath := filepath.Join(proj.Root, LockFileName)

	if _, err := lockfile.Verify(ctx, proj, store, lockPath); err != nil {
		return err
	}
	logrus.Info("lockfile is up to date")
	return nil
}

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	dir := fs.String("C", ".", "project directory")
	concurrency := fs.Int("j", 0, "max concurrent build stages (0 = NumCPU)")
	executorName := fs.String("executor", "buildkit", "container executor: buildkit or local")
	buildID := fs.String("build-id", "dev", "opaque build identifier stamped into build args")
	if err := fs.Parse(args); err != nil {
		return twerr.New(twerr.KindUsage, err)
	}
	if fs.NArg() != 1 {
		usage()
		return twerr.New(twerr.KindUsage, fmt.Errorf("build requires exactly one variant name"))
	}
	variantName := fs.Arg(0)

	proj, err := loadProject(*dir)
	if err != nil {
		return err
	}

	store := newStore(proj)
	lockPath := filepath.Join(proj.Root, LockFileName)

	rg, err := lockfile.Verify(ctx, proj, store, lockPath)
	if err != nil {
		return err
	}

	bg, err := buildgraph.Build(proj, rg, variantName, proj.Root)
	if err != nil {
		return err
	}

	repoConfigDir, err := buildLocalRepos(ctx, proj, variantName, rg, store)
	if err != nil {
		return err
	}

	engine, cleanup, err := newEngine(ctx, *executorName, proj)
	if err != nil {
		return err
	}
	defer cleanup()

	exec := &containerexec.NodeExecutor{
		Engine:               engine,
		BuildID:              *buildID,
		VariantRepoConfigDir: map[string]string{variantName: repoConfigDir},
	}
	sched := buildgraph.NewScheduler(bg, exec, *concurrency)

	events := make(chan buildgraph.Event, 64)
	sched.Events = events
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				continue
			}
			logrus.WithFields(logrus.Fields{
				"node":  ev.Node,
				"state": ev.State,
			}).Info("build node transitioned")
		case err := <-done:
			return err
		}
	}
}

// newEngine constructs the container executor named by executorName.
// "buildkit" dials BUILDKIT_HOST the way the teacher's own buildkit-client
// tooling does; "local" is the atomic-rename fallback (spec.md §9) and
// needs no daemon connection.
func newEngine(ctx context.Context, executorName string, proj *project.Project) (containerexec.Engine, func(), error) {
	outputRoot := filepath.Join(proj.Root, ".twoliter", "out")
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, nil, twerr.New(twerr.KindIO, err)
	}

	switch executorName {
	case "local":
		scratch := filepath.Join(proj.Root, ".twoliter", "scratch")
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return nil, nil, twerr.New(twerr.KindIO, err)
		}
		eng := &containerexec.LocalExecutor{
			RecipePath: filepath.Join(proj.Root, "Dockerfile"),
			ContextDir: proj.Root,
			OutputRoot: outputRoot,
			ScratchDir: scratch,
		}
		return eng, func() {}, nil

	case "buildkit":
		c, err := client.New(ctx, os.Getenv("BUILDKIT_HOST"))
		if err != nil {
			return nil, nil, twerr.New(twerr.KindIO, err, "connecting to buildkit")
		}
		eng := &containerexec.BuildkitExecutor{
			Client:     c,
			RecipePath: filepath.Join(proj.Root, "Dockerfile"),
			ContextDir: proj.Root,
			OutputRoot: outputRoot,
			Handoff:    buildgraph.NewHandoffChannel(),
		}
		return eng, func() { _ = c.Close() }, nil

	default:
		return nil, nil, twerr.New(twerr.KindUsage, fmt.Errorf("unknown executor %q", executorName))
	}
}

// buildLocalRepos materializes the composite yum repo config (spec §4.6)
// for the named variant's resolved kits ahead of the build graph run, so
// the build-stage containers see a consistent, priority-ordered repo list.
// Resolving which source actually provides each requested package (audit
// trail) is left to the image-build stage itself, which has the real yum
// transaction log; this step only emits the .repo files the stage mounts.
func buildLocalRepos(ctx context.Context, proj *project.Project, variantName string, rg *resolve.Graph, store *kit.Store) (string, error) {
	variant, ok := findVariant(proj, variantName)
	if !ok {
		return "", twerr.New(twerr.KindUsage, fmt.Errorf("unknown variant %q", variantName))
	}

	var externals []repo.Source
	for _, ref := range variant.Kits {
		resolved, ok := findResolvedKit(rg, ref)
		if !ok {
			continue
		}
		registryRepo, err := ref.RegistryRef(proj.Vendor)
		if err != nil {
			return "", twerr.New(twerr.KindResolution, err)
		}
		dir, err := store.FetchKit(ctx, registryRepo, resolved.Digest)
		if err != nil {
			return "", twerr.New(twerr.KindIO, err, "fetching kit "+ref.Name)
		}
		externals = append(externals, repo.MaterializeExternal(ref.Name, kit.LocalLayout{Dir: dir}))
	}

	localDir := filepath.Join(proj.Root, ".twoliter", "repo", variantName, "local")
	local := repo.Source{Name: "local", Dir: localDir}

	stagingRoot := filepath.Join(proj.Root, ".twoliter", "repo", variantName, "etc-yum-repos-d")
	composite, err := repo.Build(stagingRoot, local, externals)
	if err != nil {
		return "", twerr.New(twerr.KindIO, err, "composing yum repo for variant "+variantName)
	}
	return composite.ConfigDir, nil
}

func findVariant(proj *project.Project, name string) (project.Variant, bool) {
	for _, v := range proj.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return project.Variant{}, false
}

func findResolvedKit(rg *resolve.Graph, ref project.KitReference) (project.ResolvedKit, bool) {
	for _, k := range rg.Kits {
		if k.Name == ref.Name && k.Vendor == ref.Vendor {
			return k, true
		}
	}
	return project.ResolvedKit{}, false
}
