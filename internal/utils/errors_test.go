package utils

import (
	"errors"
	"strings"
	"testing"
)

type flagErr string

func (self flagErr) Error() string { return string(self) }

const testFlag = flagErr("utils_test: flag")

func TestNewErrorCarriesLocation(t *testing.T) {
	err := NewError(0, testFlag, "something %s happened", "bad")

	var traced TracedErr
	if !errors.As(err, &traced) {
		t.Fatalf("failed type control, got %T", err)
	}
	if !strings.Contains(traced.Filename, "errors_test.go") {
		t.Errorf("failed location control, got %q", traced.Filename)
	}
	if 0 == traced.Line {
		t.Error("missing line number")
	}
	if !errors.Is(err, testFlag) {
		t.Error("flag not reachable through errors.Is")
	}
	if !strings.Contains(err.Error(), "something bad happened") {
		t.Errorf("failed message control, got %q", err.Error())
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("root cause")

	err := WrapError(cause, 0, testFlag, "failed step")
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through errors.Is")
	}
	if !errors.Is(err, testFlag) {
		t.Error("flag not reachable through errors.Is")
	}

	if nil != WrapError(nil, 0, testFlag, "ignored") {
		t.Error("wrapping a nil cause returned a non nil error")
	}
}
