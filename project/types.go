// Package project implements the project loader (spec §4.1): locating
// Twoliter.toml, parsing it and the kit/variant/package manifests it
// references, and validating the result into one immutable Project value.
package project

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// SchemaMin and SchemaMax bound the project schema versions this build of
// twoliter understands (invariant I5).
const (
	SchemaMin = 1
	SchemaMax = 1
)

// Project is the parsed, validated Twoliter.toml plus everything it
// transitively names: local kits, variants, and packages discovered from the
// fixed directory layout (kits/, variants/, packages/ under the project
// root).
type Project struct {
	// Root is the absolute path to the directory containing Twoliter.toml.
	Root string

	Name          string
	Version       string
	SchemaVersion int

	SDK SdkReference

	// Vendor maps a vendor namespace to the registry prefix used to resolve
	// that vendor's external kits.
	Vendor map[string]string

	LocalKits []LocalKit
	Variants  []Variant
	Packages  []Package
}

// SdkReference identifies the cross-compilation toolchain image. Exactly one
// is authoritative per project build (invariant I1). Digest is populated
// only after resolution (§3).
type SdkReference struct {
	Name     string
	Version  string
	Registry string
	Digest   digest.Digest
}

// String renders the reference as "<registry>/<name>:<ver>@<digest>" once
// resolved, or "<registry>/<name>:<ver>" while still declared. It carries no
// architecture, so it omits the "-<arch>" suffix of KitMetadata's "sdk" field.
func (s SdkReference) String() string {
	if s.Digest == "" {
		return fmt.Sprintf("%s/%s:%s", s.Registry, s.Name, s.Version)
	}
	return fmt.Sprintf("%s/%s:%s@%s", s.Registry, s.Name, s.Version, s.Digest)
}

// Resolved reports whether Digest has been populated.
func (s SdkReference) Resolved() bool {
	return s.Digest != ""
}

// Matches reports whether two SdkReferences name the same SDK build,
// per invariant I1: (name, version, registry) must agree, and if both sides
// carry a digest, it must agree too.
func (s SdkReference) Matches(other SdkReference) bool {
	if s.Name != other.Name || s.Version != other.Version || s.Registry != other.Registry {
		return false
	}
	if s.Digest != "" && other.Digest != "" && s.Digest != other.Digest {
		return false
	}
	return true
}

// KitReference is a declared dependency on a kit: exact semver version, no
// range operators (spec §4.3 step 3).
type KitReference struct {
	Name    string
	Version string
	Vendor  string
}

// RegistryRef resolves the fully-qualified registry reference for this kit
// given the project's vendor table, e.g. "registry.example.com/vendor/name".
func (k KitReference) RegistryRef(vendorTable map[string]string) (string, error) {
	prefix, ok := vendorTable[k.Vendor]
	if !ok {
		return "", fmt.Errorf("unknown vendor %q for kit %q", k.Vendor, k.Name)
	}
	return fmt.Sprintf("%s/%s", prefix, k.Name), nil
}

// ResolvedKit is a KitReference plus everything resolution pins (§3): the
// kit's own digest, the SDK digest it was built against, its fully resolved
// kit dependencies, and the set of architectures it supports.
type ResolvedKit struct {
	KitReference
	Digest    digest.Digest
	SDKDigest digest.Digest
	KitDeps   []ResolvedKit
	ArchList  []string
}

// SupportsArch reports whether arch appears in ArchList (invariant I4).
func (r ResolvedKit) SupportsArch(arch string) bool {
	for _, a := range r.ArchList {
		if a == arch {
			return true
		}
	}
	return false
}

// LocalKit is a kit defined within the current project, built from source.
// It is never consumed by another project as an "external" kit without
// first being published (spec §9, open question resolved: local and
// external kits are disjoint roles).
type LocalKit struct {
	Name string
	// Dir is the kit's directory, kits/<name>/, relative to Project.Root.
	Dir string
	// Packages are the names of packages (from Project.Packages) this kit
	// includes in its yum repository.
	Packages []string
	// ExternalDeps are the kits this local kit depends on, declared the same
	// way a variant does.
	ExternalDeps []KitReference
}

// Package is a directory under packages/<name>/ containing a spec file and
// source inputs.
type Package struct {
	Name string
	// Dir is the package's directory, packages/<name>/, relative to
	// Project.Root.
	Dir string
	// PackageDeps are other packages (by name) this package depends on.
	PackageDeps []string
	// KitDeps are kits this package's build depends on (e.g. for build-time
	// tooling shipped in a kit).
	KitDeps []KitReference
}

// Variant is a named bootable image configuration.
type Variant struct {
	Name string
	// Dir is the variant's directory, variants/<name>/, relative to
	// Project.Root.
	Dir string
	Arch string
	// Packages are required package names, in the order the manifest lists
	// them.
	Packages []string
	// Kits are kit references in priority order: earlier entries win ties
	// in the composite repo (spec §4.6).
	Kits []KitReference

	Image ImageParams
}

// ImageParams are the disk-image generation parameters named in spec §3:
// partition plan, image format, kernel parameters, feature flags. Their
// interpretation belongs to the (out-of-scope) disk-image writer; twoliter
// only carries them through unmodified.
type ImageParams struct {
	PartitionPlan string
	ImageFormat   string
	KernelParams  []string
	Features      map[string]bool
}

// KitMetadata is the on-wire structure stored at the sibling tag
// "<kit>:<ver>-metadata" (spec §3). Canonical JSON encoding (sorted keys,
// LF-terminated) keeps the metadata image's digest stable across pushes of
// otherwise-identical content (spec §4.2).
type KitMetadata struct {
	Kit KitMetadataBody `json:"kit"`
}

// KitMetadataBody is the payload of KitMetadata.
type KitMetadataBody struct {
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Arch         string             `json:"arch"`
	SDK          string             `json:"sdk"`
	Dependencies []string           `json:"dependencies"`
	Packages     []PackageReference `json:"packages"`
}

// PackageReference identifies one RPM carried inside a kit.
type PackageReference struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Release string `json:"release"`
	Arch    string `json:"arch"`
	Epoch   string `json:"epoch,omitempty"`
}
