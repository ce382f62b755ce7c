package buildgraph

import (
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

// CacheToken deterministically hashes a node's inputs (spec §4.5): a sorted,
// canonical concatenation of input digests/strings, using the same
// sha256-based digest primitive C2 uses for content addressing. Sorting the
// inputs first means the result does not depend on caller-supplied order.
func CacheToken(inputs ...string) digest.Digest {
	sorted := append([]string(nil), inputs...)
	sort.Strings(sorted)
	return digest.FromString(strings.Join(sorted, "\x00"))
}
