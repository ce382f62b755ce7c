// Package repo implements the composite repo builder (spec §4.6): given a
// variant's priority-ordered kit list, emit one yum-repo config file per kit
// with monotonically increasing priorities, plus the project's own locally
// built RPM repo at priority 0. Each .repo file points at the kit's
// repository directory where it already lies on disk; kit layouts are not
// copied under the staging root.
package repo

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"text/template"

	"github.com/bottlerocket-os/twoliter/internal/twerr"
	"github.com/bottlerocket-os/twoliter/kit"
)

//go:embed templates/repo.tmpl
var repoTmplContent string

var repoTmpl = template.Must(template.New("repo").Parse(repoTmplContent))

// Source is one kit (or the project's own local RPM output) contributing
// to a variant's composite repo, in priority order: index 0 is the local
// repo (always highest priority); everything after follows the variant
// manifest's declared kit order.
type Source struct {
	// Name is the repo id: the kit name, or "local" for the project's own
	// build output.
	Name string
	// Dir is the on-disk directory already holding this source's yum
	// repository (repodata/ plus RPM files); it is not copied, only
	// referenced, since C6 does not union repos at the file level.
	Dir string
}

// repoFile is the data handed to the .repo template for one source.
type repoFile struct {
	ID       string
	Name     string
	BaseURL  string
	Priority int
}

// Composite is the materialized set of yum-repo config files and the
// staging layout handed to the variant build stage.
type Composite struct {
	// ConfigDir holds one <source>.repo file per Source.
	ConfigDir string
	// Sources are the inputs, in the priority order given to Build.
	Sources []Source
}

// Build writes one .repo file per source into stagingRoot/repos.d, with
// priority 0 for the local repo and 1, 2, 3, ... for the rest in the order
// given (spec §4.6 step 2: "priorities monotonically increasing from 1,
// plus the project's own locally built RPM repo at priority 0").
func Build(stagingRoot string, local Source, externals []Source) (*Composite, error) {
	configDir := filepath.Join(stagingRoot, "repos.d")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, twerr.New(twerr.KindIO, err, "creating repo config directory")
	}

	all := append([]Source{local}, externals...)

	for i, src := range all {
		rf := repoFile{
			ID:       src.Name,
			Name:     src.Name,
			BaseURL:  "file://" + src.Dir,
			Priority: i,
		}
		path := filepath.Join(configDir, src.Name+".repo")
		f, err := os.Create(path)
		if err != nil {
			return nil, twerr.New(twerr.KindIO, err, "creating "+path)
		}
		err = repoTmpl.Execute(f, rf)
		closeErr := f.Close()
		if err != nil {
			return nil, twerr.New(twerr.KindIO, err, "rendering "+path)
		}
		if closeErr != nil {
			return nil, twerr.New(twerr.KindIO, closeErr, "closing "+path)
		}
	}

	return &Composite{ConfigDir: configDir, Sources: all}, nil
}

// PackageSelection records which repo supplied one installed package
// (spec §4.6: "a per-build audit file noting which repo supplied each
// package").
type PackageSelection struct {
	Package string `json:"package"`
	Repo    string `json:"repo"`
}

// Audit is the per-build install audit (spec §4.6 invariant: the
// highest-priority repo providing a package wins, recorded deterministically).
type Audit struct {
	Selections []PackageSelection `json:"selections"`
}

// Resolve determines, for each package name in packages, which source
// provides it, preferring the earliest (highest-priority) source in
// c.Sources whose entry in provided lists the package. provided maps
// a source name to the set of package names its repo carries; callers
// populate it from each source's repodata (outside this package's scope —
// C6 only selects, it does not parse RPM metadata).
func (c *Composite) Resolve(packages []string, provided map[string]map[string]bool) (*Audit, error) {
	audit := &Audit{}
	for _, pkg := range packages {
		var chosen string
		for _, src := range c.Sources {
			if provided[src.Name][pkg] {
				chosen = src.Name
				break
			}
		}
		if chosen == "" {
			return nil, twerr.New(twerr.KindBuild, nil, "package "+pkg+" not provided by any repo in the composite")
		}
		audit.Selections = append(audit.Selections, PackageSelection{Package: pkg, Repo: chosen})
	}
	return audit, nil
}

// WriteAudit writes a as canonical JSON to path.
func WriteAudit(path string, a *Audit) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return twerr.New(twerr.KindIO, err, "encoding install audit")
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return twerr.New(twerr.KindIO, err, "writing "+path)
	}
	return nil
}

// MaterializeExternal stages an external kit's on-disk layout (fetched via
// the OCI kit store, C2) as a Source for Build: its repo directory is
// kit.RepoPath(name) rooted at the kit's extracted layout directory.
func MaterializeExternal(name string, layout kit.LocalLayout) Source {
	return Source{Name: name, Dir: filepath.Join(layout.Dir, kit.RepoPath(name))}
}
