package fatal

import (
	"errors"
	"strings"
	"testing"
)

func TestErrnoWrapsWithContext(t *testing.T) {
	cause := errors.New("permission denied")
	wrapped := Errno("opening lockfile", cause)
	if wrapped == nil {
		t.Fatal("Errno returned nil for non-nil error")
	}
	if !strings.Contains(wrapped.Error(), "opening lockfile") {
		t.Errorf("wrapped error %q does not mention context", wrapped.Error())
	}
	if !strings.Contains(wrapped.Error(), "permission denied") {
		t.Errorf("wrapped error %q does not mention cause", wrapped.Error())
	}
	if !errors.Is(wrapped, cause) {
		t.Error("Errno did not preserve error chain for errors.Is")
	}
}

func TestErrnoNil(t *testing.T) {
	if err := Errno("context", nil); err != nil {
		t.Fatalf("Errno(context, nil) = %v, want nil", err)
	}
}
