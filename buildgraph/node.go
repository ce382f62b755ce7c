// Package buildgraph implements the build graph driver (spec §4.5): a DAG
// of package, local-kit, variant, and auxiliary build nodes, scheduled with
// bounded parallelism, each carrying a deterministic cache token. The
// scheduler runs every node on every run; it does not compare tokens or
// skip nodes whose artifacts already exist.
package buildgraph

import (
	"fmt"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
)

// Kind identifies what a Node produces.
type Kind int

const (
	KindPackageBuild Kind = iota
	KindLocalKitBuild
	KindVariantBuild
	KindMigrationsBundle
	KindKmodKit
)

func (k Kind) String() string {
	switch k {
	case KindPackageBuild:
		return "package"
	case KindLocalKitBuild:
		return "local-kit"
	case KindVariantBuild:
		return "variant"
	case KindMigrationsBundle:
		return "migrations-bundle"
	case KindKmodKit:
		return "kmod-kit"
	default:
		return "unknown"
	}
}

// State is a node's position in the spec §4.5 state machine:
// Pending -> Ready -> Running -> {Succeeded, Failed, Cancelled}.
type State int32

const (
	StatePending State = iota
	StateReady
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Node is one unit of scheduled work. Name uniquely identifies it within a
// Graph, e.g. "package:hello-agent:x86_64" or "variant:example-dev:x86_64".
type Node struct {
	Name string
	Kind Kind
	Arch string

	// Subject is the package/kit/variant name this node builds.
	Subject string

	// Deps lists the names of nodes that must succeed before this one is
	// Ready.
	Deps []string

	// CacheToken is the deterministic hash of this node's inputs (spec
	// §4.5): identical inputs give identical tokens across runs. It is
	// handed to the node's stage as the CACHE_TOKEN build arg; nothing in
	// this package reuses an existing artifact on a matching token.
	CacheToken digest.Digest

	state int32
}

func newNode(name string, kind Kind, arch, subject string, deps []string, token digest.Digest) *Node {
	return &Node{Name: name, Kind: kind, Arch: arch, Subject: subject, Deps: deps, CacheToken: token, state: int32(StatePending)}
}

// State returns the node's current state.
func (n *Node) State() State {
	return State(atomic.LoadInt32(&n.state))
}

// transition performs a guarded compare-and-swap from `from` to `to`,
// reporting whether it succeeded. Used by the scheduler so that concurrent
// cancellation and completion can race safely without double-reporting a
// node.
func (n *Node) transition(from, to State) bool {
	return atomic.CompareAndSwapInt32(&n.state, int32(from), int32(to))
}

// PackageBuildName is the canonical node name for a package build.
func PackageBuildName(name, arch string) string {
	return fmt.Sprintf("package:%s:%s", name, arch)
}

// LocalKitBuildName is the canonical node name for a local kit build.
func LocalKitBuildName(name, arch string) string {
	return fmt.Sprintf("local-kit:%s:%s", name, arch)
}

// VariantBuildName is the canonical node name for a variant build.
func VariantBuildName(name, arch string) string {
	return fmt.Sprintf("variant:%s:%s", name, arch)
}

// MigrationsBundleName is the canonical node name for a variant's
// migrations bundle (auxiliary, derived from the same package set).
func MigrationsBundleName(variant, arch string) string {
	return fmt.Sprintf("migrations-bundle:%s:%s", variant, arch)
}

// KmodKitName is the canonical node name for a variant's kernel-module kit
// (auxiliary, derived from the same package set).
func KmodKitName(variant, arch string) string {
	return fmt.Sprintf("kmod-kit:%s:%s", variant, arch)
}
