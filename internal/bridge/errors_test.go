package bridge

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	if KindOf(nil) != KindNone {
		t.Fatalf("nil must map to none")
	}
	if KindOf(errors.New("x")) != KindGenerationFailed {
		t.Fatalf("foreign errors map to generation_failed")
	}
	wrapped := fmt.Errorf("outer: %w", errorf(opLoad, KindTooBusy, "busy"))
	if !IsTooBusy(wrapped) {
		t.Fatalf("kind lost through wrapping")
	}
}

func TestKindStringsAreStable(t *testing.T) {
	want := map[Kind]string{
		KindNone:                  "none",
		KindNotInitialized:        "not_initialized",
		KindFileNotFound:          "file_not_found",
		KindMalformedModel:        "malformed_model",
		KindOutOfMemory:           "out_of_memory",
		KindGenerationFailed:      "generation_failed",
		KindInvalidHandle:         "invalid_handle",
		KindNoModel:               "no_model",
		KindTooBusy:               "too_busy",
		KindDependencyUnavailable: "dependency_unavailable",
		KindInvalidArgument:       "invalid_argument",
		KindClosed:                "closed",
	}
	for k, s := range want {
		if k.String() != s {
			t.Fatalf("%d: got %q want %q", int(k), k.String(), s)
		}
	}
	if Kind(99).String() != "kind(99)" {
		t.Fatalf("unknown kind: %q", Kind(99).String())
	}
	if KindDependencyUnavailable != 9 || KindClosed != 11 {
		t.Fatalf("kind codes renumbered")
	}
}

func TestErrorMessage(t *testing.T) {
	err := errorf(opGenerate, KindInvalidHandle, "unknown handle %d", 3)
	if err.Error() != "generate: unknown handle 3" {
		t.Fatalf("got %q", err.Error())
	}
	if (&Error{Op: "load", Kind: KindOutOfMemory}).Error() != "load: out_of_memory" {
		t.Fatalf("bare error message")
	}
}
