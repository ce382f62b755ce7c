package twerr

import (
	"errors"
	"testing"
)

func TestWithContextWrapsPlainError(t *testing.T) {
	err := WithContext(errors.New("boom"), "variant example-dev")
	if KindOf(err) != KindUsage {
		t.Fatalf("expected KindUsage, got %s", KindOf(err))
	}
	if got, want := err.Error(), "usage: variant example-dev: boom"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWithContextPrependsFrame(t *testing.T) {
	base := New(KindResolution, errors.New("conflict"), "kit common")
	wrapped := WithContext(base, "variant example-dev")

	var te *Error
	if !errors.As(wrapped, &te) {
		t.Fatalf("expected *Error, got %T", wrapped)
	}
	if KindOf(wrapped) != KindResolution {
		t.Fatalf("expected KindResolution, got %s", KindOf(wrapped))
	}
	want := []string{"variant example-dev", "kit common"}
	if len(te.Context) != len(want) || te.Context[0] != want[0] || te.Context[1] != want[1] {
		t.Fatalf("got %v, want %v", te.Context, want)
	}
}

func TestExitCodes(t *testing.T) {
	cases := map[Kind]int{
		KindUsage:      2,
		KindLockDrift:  10,
		KindResolution: 11,
		KindBuild:      12,
		KindIO:         13,
		KindCancelled:  14,
	}
	for k, want := range cases {
		if got := k.ExitCode(); got != want {
			t.Errorf("%s: got exit code %d, want %d", k, got, want)
		}
	}
}
