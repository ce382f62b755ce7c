package resolve

import (
	"fmt"
	"strings"

	"github.com/bottlerocket-os/twoliter/internal/twerr"
)

// ErrKitVersionConflict is returned when a kit name reappears in the
// frontier with a different declared version (spec §4.3 step 3): versions
// use exact equality, since kits sharing a name share a yum namespace.
func ErrKitVersionConflict(name string, versions []string, requiredBy []string) error {
	msg := fmt.Sprintf("kit %q required at conflicting versions %s (required by: %s)",
		name, strings.Join(versions, ", "), strings.Join(requiredBy, ", "))
	return twerr.New(twerr.KindResolution, nil, msg)
}

// ErrSdkConflict is returned when a visited kit's declared SDK does not
// match the project SDK (invariant I1).
func ErrSdkConflict(node string, projectSDK, nodeSDK string) error {
	msg := fmt.Sprintf("kit %q declares SDK %q, project declares %q", node, nodeSDK, projectSDK)
	return twerr.New(twerr.KindResolution, nil, msg)
}

// ErrDependencyCycle is returned when the resolved graph is not acyclic
// (invariant I3).
func ErrDependencyCycle(path []string) error {
	return twerr.New(twerr.KindResolution, nil, fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> ")))
}

// ErrArchUnsupported is returned when a variant depends on a kit that does
// not list the variant's architecture (invariant I4).
func ErrArchUnsupported(variant, kit, arch string) error {
	msg := fmt.Sprintf("variant %q requires arch %q but kit %q does not support it", variant, arch, kit)
	return twerr.New(twerr.KindResolution, nil, msg)
}

// ErrMetadataMissing is returned when a kit's metadata companion tag cannot
// be resolved.
func ErrMetadataMissing(ref string, cause error) error {
	return twerr.New(twerr.KindResolution, cause, fmt.Sprintf("metadata missing for %q", ref))
}
