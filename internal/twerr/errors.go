// Package twerr defines the structured error taxonomy used across twoliter:
// every fatal condition the orchestrator can hit is tagged with a Kind so
// callers (the CLI, tests) can map it to the right exit code without string
// matching.
package twerr

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies an Error for exit-code mapping and caller handling.
type Kind int

const (
	// KindUsage covers bad arguments or a missing project.
	KindUsage Kind = iota
	// KindProject covers schema and duplicate-name manifest problems.
	KindProject
	// KindResolution covers KitVersionConflict, SdkConflict, DependencyCycle,
	// ArchUnsupported and MetadataMissing.
	KindResolution
	// KindLockDrift covers a lockfile that no longer matches re-resolution.
	KindLockDrift
	// KindBuild covers a build stage that exited non-zero.
	KindBuild
	// KindIO covers filesystem, network, and container-engine failures.
	KindIO
	// KindCancelled covers operations aborted via context cancellation.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindProject:
		return "project"
	case KindResolution:
		return "resolution"
	case KindLockDrift:
		return "lock_drift"
	case KindBuild:
		return "build"
	case KindIO:
		return "io"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExitCode maps a Kind to the process exit code documented in spec §6.
func (k Kind) ExitCode() int {
	switch k {
	case KindUsage:
		return 2
	case KindLockDrift:
		return 10
	case KindResolution:
		return 11
	case KindBuild:
		return 12
	case KindIO:
		return 13
	case KindCancelled:
		return 14
	default:
		return 1
	}
}

// Error is a structured value carrying a machine-readable Kind, the chain of
// nodes that led to it (e.g. "variant example-dev", "kit hello-dev-kit"), and
// the underlying cause.
type Error struct {
	Kind    Kind
	Context []string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if len(e.Context) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Context, " -> "))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New wraps cause with kind and an initial context frame. cause may be nil.
func New(kind Kind, cause error, context ...string) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// WithContext returns a copy of err (or a fresh KindUsage wrapper around a
// plain error) with frame prepended to the context chain.
func WithContext(err error, frame string) error {
	var te *Error
	if errors.As(err, &te) {
		cp := *te
		cp.Context = append([]string{frame}, te.Context...)
		return &cp
	}
	return &Error{Kind: KindUsage, Context: []string{frame}, Cause: err}
}

// KindOf returns the Kind of err, or KindUsage if err does not carry one.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUsage
}
