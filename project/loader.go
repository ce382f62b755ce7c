package project

import (
	"os"
	"path/filepath"
	"sort"
)

// ManifestName is the file name FindRoot searches for.
const ManifestName = "Twoliter.toml"

// FindRoot walks up from dir looking for Twoliter.toml, returning the
// directory that contains it. This mirrors the teacher's root-finding idiom
// for build context discovery: a plain ancestor walk, not a third-party
// "find project root" dependency (see DESIGN.md).
func FindRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	cur := abs
	for {
		candidate := filepath.Join(cur, ManifestName)
		if _, err := os.Stat(candidate); err == nil {
			return cur, nil
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", ErrProjectNotFound(abs)
		}
		cur = parent
	}
}

// Load parses Twoliter.toml at root and recursively reads the kit, variant,
// and package manifests from the fixed directory layout (spec §4.1),
// producing one immutable Project.
func Load(root string) (*Project, error) {
	manifestPath := filepath.Join(root, ManifestName)
	raw, err := parseManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	if raw.SchemaVersion < SchemaMin || raw.SchemaVersion > SchemaMax {
		return nil, ErrSchemaUnsupported(raw.SchemaVersion)
	}

	if err := validateSemver(raw.Project.Version); err != nil {
		return nil, ErrManifestInvalid(manifestPath, err.Error())
	}
	if err := validateSemver(raw.SDK.Version); err != nil {
		return nil, ErrManifestInvalid(manifestPath, err.Error())
	}

	p := &Project{
		Root:          root,
		Name:          raw.Project.Name,
		Version:       raw.Project.Version,
		SchemaVersion: raw.SchemaVersion,
		SDK: SdkReference{
			Name:     raw.SDK.Name,
			Version:  raw.SDK.Version,
			Registry: raw.SDK.Registry,
		},
		Vendor: raw.Vendor,
	}

	if p.Packages, err = loadPackages(root); err != nil {
		return nil, err
	}
	if p.LocalKits, err = loadLocalKits(root); err != nil {
		return nil, err
	}
	if p.Variants, err = loadVariants(root); err != nil {
		return nil, err
	}

	return p, nil
}

func listSubdirs(parent string) ([]string, error) {
	entries, err := os.ReadDir(parent)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func loadPackages(root string) ([]Package, error) {
	names, err := listSubdirs(filepath.Join(root, "packages"))
	if err != nil {
		return nil, err
	}

	out := make([]Package, 0, len(names))
	for _, name := range names {
		dir := filepath.Join("packages", name)
		manifestPath := filepath.Join(root, dir, "Package.toml")
		raw, err := parsePackageManifest(manifestPath)
		if err != nil {
			return nil, err
		}

		kitDeps, err := toKitReferences(raw.KitDeps)
		if err != nil {
			return nil, ErrManifestInvalid(manifestPath, err.Error())
		}

		out = append(out, Package{
			Name:        name,
			Dir:         dir,
			PackageDeps: raw.PackageDeps,
			KitDeps:     kitDeps,
		})
	}
	return out, nil
}

func loadLocalKits(root string) ([]LocalKit, error) {
	names, err := listSubdirs(filepath.Join(root, "kits"))
	if err != nil {
		return nil, err
	}

	out := make([]LocalKit, 0, len(names))
	for _, name := range names {
		dir := filepath.Join("kits", name)
		manifestPath := filepath.Join(root, dir, "Kit.toml")
		raw, err := parseKitManifest(manifestPath)
		if err != nil {
			return nil, err
		}

		deps, err := toKitReferences(raw.Deps)
		if err != nil {
			return nil, ErrManifestInvalid(manifestPath, err.Error())
		}

		out = append(out, LocalKit{
			Name:         name,
			Dir:          dir,
			Packages:     raw.Packages,
			ExternalDeps: deps,
		})
	}
	return out, nil
}

func loadVariants(root string) ([]Variant, error) {
	names, err := listSubdirs(filepath.Join(root, "variants"))
	if err != nil {
		return nil, err
	}

	out := make([]Variant, 0, len(names))
	for _, name := range names {
		dir := filepath.Join("variants", name)
		manifestPath := filepath.Join(root, dir, "Variant.toml")
		raw, err := parseVariantManifest(manifestPath)
		if err != nil {
			return nil, err
		}

		kits, err := toKitReferences(raw.Kits)
		if err != nil {
			return nil, ErrManifestInvalid(manifestPath, err.Error())
		}

		out = append(out, Variant{
			Name:     name,
			Dir:      dir,
			Arch:     raw.Arch,
			Packages: raw.Packages,
			Kits:     kits,
			Image: ImageParams{
				PartitionPlan: raw.Image.PartitionPlan,
				ImageFormat:   raw.Image.ImageFormat,
				KernelParams:  raw.Image.KernelParams,
				Features:      raw.Image.Features,
			},
		})
	}
	return out, nil
}
