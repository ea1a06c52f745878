package upcall

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError("worker.Init", KindStartupFatal, -1, cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the wrapped cause")
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewError("echo.OnRead", KindKernelEvent, 7, errors.New("bad fd"))
	if !errors.Is(err, &Error{Kind: KindKernelEvent}) {
		t.Error("errors.Is should match on Kind alone")
	}
	if errors.Is(err, &Error{Kind: KindStartupFatal}) {
		t.Error("errors.Is matched the wrong Kind")
	}
}

func TestIsKind(t *testing.T) {
	err := NewError("cache.New", KindStartupFatal, -1, errors.New("oom"))
	if !IsKind(err, KindStartupFatal) {
		t.Error("IsKind should report true for a matching Kind")
	}
	if IsKind(err, KindConnection) {
		t.Error("IsKind should report false for a non-matching Kind")
	}
	if IsKind(errors.New("plain"), KindStartupFatal) {
		t.Error("IsKind should report false for a non-*Error")
	}
}

func TestErrorMessageIncludesFD(t *testing.T) {
	err := NewError("echo.OnRead", KindConnection, 5, errors.New("write failed"))
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
	if !strings.Contains(msg, "fd=5") {
		t.Errorf("Error() = %q, want it to include fd=5", msg)
	}
}
