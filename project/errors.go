package project

import (
	"fmt"

	"github.com/bottlerocket-os/twoliter/internal/twerr"
)

// ErrProjectNotFound is returned by FindRoot when no Twoliter.toml is found
// in any ancestor of the search directory.
func ErrProjectNotFound(searchDir string) error {
	return twerr.New(twerr.KindUsage, nil, fmt.Sprintf("Twoliter.toml not found from %s upward", searchDir))
}

// ErrSchemaUnsupported is returned when a project's schema_version falls
// outside [SchemaMin, SchemaMax] (invariant I5).
func ErrSchemaUnsupported(got int) error {
	msg := fmt.Sprintf("schema_version %d unsupported (supported range is [%d, %d])", got, SchemaMin, SchemaMax)
	return twerr.New(twerr.KindProject, nil, msg)
}

// ErrManifestInvalid is returned when a manifest fails to parse or fails
// structural validation.
func ErrManifestInvalid(path, detail string) error {
	return twerr.New(twerr.KindProject, nil, fmt.Sprintf("manifest invalid at %s: %s", path, detail))
}

// ErrDuplicateName is returned when two packages, kits, or variants share a
// name within the same project.
func ErrDuplicateName(kind, name string) error {
	return twerr.New(twerr.KindProject, nil, fmt.Sprintf("duplicate %s name: %s", kind, name))
}
