// Package kit implements the OCI kit store (spec §4.2): pulling/pushing kit
// images, reading and writing the on-disk kit layout, and parsing/emitting
// the kit metadata blob.
package kit

import "path"

// RepoPath is the path, inside a kit image, of the yum repository for kit
// name (spec §3's on-disk layout: "/kits/<kit-name>/...").
func RepoPath(name string) string {
	return path.Join("/kits", name)
}

// RepodataPath is the path of the repo's repodata directory.
func RepodataPath(name string) string {
	return path.Join(RepoPath(name), "repodata")
}

// RepoConfigPath is the path of the yum .repo config file describing this
// kit's repository ("/etc/yum.repos.d/<kit-name>.repo").
func RepoConfigPath(name string) string {
	return path.Join("/etc/yum.repos.d", name+".repo")
}

// MetadataTag returns the sibling tag a kit's metadata companion image is
// published under, in the same repository as the kit image: for version
// "1.0.0" it is "1.0.0-metadata", beside the kit's own "1.0.0" tag. The
// repository already names the kit, so name is not part of the tag.
func MetadataTag(name, version string) string {
	return version + "-metadata"
}

// LocalLayout describes a kit's on-disk content staged for publishing or
// just unpacked from a pulled image: the directory holding repodata + RPMs,
// and the generated .repo config file content.
type LocalLayout struct {
	// Dir is the root directory whose contents become the kit image's
	// single layer, already laid out per spec §3 (RepoPath/RepodataPath
	// under Dir, plus the /etc/yum.repos.d config file).
	Dir string
}
