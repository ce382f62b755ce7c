package project

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/semver"
)

// rawManifest is the on-disk shape of Twoliter.toml.
type rawManifest struct {
	SchemaVersion int                  `toml:"schema_version"`
	Project       rawProjectSection    `toml:"project"`
	SDK           rawSdkSection        `toml:"sdk"`
	Vendor        map[string]string    `toml:"vendor"`
}

type rawProjectSection struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

type rawSdkSection struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Registry string `toml:"registry"`
}

func parseManifest(path string) (rawManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return rawManifest{}, ErrManifestInvalid(path, err.Error())
	}

	var m rawManifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return rawManifest{}, ErrManifestInvalid(path, err.Error())
	}

	return m, nil
}

// validateSemver enforces spec §4.3 step 3: kit versions are exact semver,
// no range operators. golang.org/x/mod/semver requires a leading "v".
func validateSemver(v string) error {
	canon := v
	if len(canon) == 0 || canon[0] != 'v' {
		canon = "v" + canon
	}
	if !semver.IsValid(canon) {
		return fmt.Errorf("%q is not a valid exact semver version", v)
	}
	return nil
}

// rawKitManifest is the on-disk shape of kits/<name>/Kit.toml.
type rawKitManifest struct {
	Packages []string           `toml:"packages"`
	Deps     []rawKitDependency `toml:"dependency"`
}

type rawKitDependency struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Vendor  string `toml:"vendor"`
}

func parseKitManifest(path string) (rawKitManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return rawKitManifest{}, ErrManifestInvalid(path, err.Error())
	}
	var m rawKitManifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return rawKitManifest{}, ErrManifestInvalid(path, err.Error())
	}
	return m, nil
}

// rawPackageManifest is the on-disk shape of packages/<name>/Package.toml.
type rawPackageManifest struct {
	PackageDeps []string           `toml:"package_deps"`
	KitDeps     []rawKitDependency `toml:"kit_dependency"`
}

func parsePackageManifest(path string) (rawPackageManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return rawPackageManifest{}, ErrManifestInvalid(path, err.Error())
	}
	var m rawPackageManifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return rawPackageManifest{}, ErrManifestInvalid(path, err.Error())
	}
	return m, nil
}

// rawVariantManifest is the on-disk shape of variants/<name>/Variant.toml.
type rawVariantManifest struct {
	Arch     string             `toml:"arch"`
	Packages []string           `toml:"packages"`
	Kits     []rawKitDependency `toml:"kit"`
	Image    rawImageParams     `toml:"image"`
}

type rawImageParams struct {
	PartitionPlan string          `toml:"partition_plan"`
	ImageFormat   string          `toml:"image_format"`
	KernelParams  []string        `toml:"kernel_params"`
	Features      map[string]bool `toml:"features"`
}

func parseVariantManifest(path string) (rawVariantManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return rawVariantManifest{}, ErrManifestInvalid(path, err.Error())
	}
	var m rawVariantManifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return rawVariantManifest{}, ErrManifestInvalid(path, err.Error())
	}
	return m, nil
}

func toKitReferences(deps []rawKitDependency) ([]KitReference, error) {
	out := make([]KitReference, 0, len(deps))
	for _, d := range deps {
		if err := validateSemver(d.Version); err != nil {
			return nil, fmt.Errorf("kit %q: %w", d.Name, err)
		}
		out = append(out, KitReference{Name: d.Name, Version: d.Version, Vendor: d.Vendor})
	}
	return out, nil
}
