package kit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/opencontainers/go-digest"

	"github.com/bottlerocket-os/twoliter/project"
)

// MarshalMetadataCanonical encodes m as canonical JSON: keys sorted
// lexically at every level (m is round-tripped through a generic map, whose
// keys encoding/json always emits sorted), no HTML escaping, LF-terminated.
// This keeps the metadata image's digest stable across pushes of identical
// content (spec §4.2).
func MarshalMetadataCanonical(m project.KitMetadata) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	// json.Encoder.Encode always LF-terminates; nothing further to do.
	return buf.Bytes(), nil
}

// UnmarshalMetadata decodes a canonical metadata blob.
func UnmarshalMetadata(b []byte) (project.KitMetadata, error) {
	var m project.KitMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return project.KitMetadata{}, fmt.Errorf("decoding kit metadata: %w", err)
	}
	return m, nil
}

// refPattern matches the wire form of a kit/SDK reference used inside
// KitMetadata: "<registry>/<name>-<arch>:<ver>@<digest>".
var refPattern = regexp.MustCompile(`^(.+)/([^/]+)-([^-/:]+):([^@/]+)@(.+)$`)

// ImageRef is a fully resolved registry reference as it appears in the
// "sdk" and "dependencies" fields of KitMetadata.
type ImageRef struct {
	Registry string
	Name     string
	Arch     string
	Version  string
	Digest   digest.Digest
}

// String renders the canonical wire form.
func (r ImageRef) String() string {
	return fmt.Sprintf("%s/%s-%s:%s@%s", r.Registry, r.Name, r.Arch, r.Version, r.Digest)
}

// ParseImageRef parses the wire form emitted by String. Readers of
// KitMetadata use this rather than inferring structure from the kit
// contents themselves (spec §9).
func ParseImageRef(s string) (ImageRef, error) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return ImageRef{}, fmt.Errorf("malformed kit image reference %q", s)
	}
	d, err := digest.Parse(m[5])
	if err != nil {
		return ImageRef{}, fmt.Errorf("malformed digest in reference %q: %w", s, err)
	}
	return ImageRef{
		Registry: m[1],
		Name:     m[2],
		Arch:     m[3],
		Version:  m[4],
		Digest:   d,
	}, nil
}
