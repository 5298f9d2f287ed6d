package toolerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify_PassesThrough(t *testing.T) {
	orig := NotFoundf("tool %s not found", "fs_read")
	got := Classify(fmt.Errorf("dispatch: %w", orig))
	if got.Kind != KindNotFound {
		t.Fatalf("kind = %q, want %q", got.Kind, KindNotFound)
	}
	if got != orig {
		t.Error("expected the original classified error, not a copy")
	}
}

func TestClassify_UnclassifiedBecomesInternal(t *testing.T) {
	cause := errors.New("connection reset by peer")
	got := Classify(cause)
	if got.Kind != KindInternal {
		t.Fatalf("kind = %q, want %q", got.Kind, KindInternal)
	}
	if got.Message != "internal error" {
		t.Errorf("message = %q, want generic", got.Message)
	}
	if !errors.Is(got, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestIs_KindSentinels(t *testing.T) {
	err := Securityf("path escapes workspace root")
	if !errors.Is(err, ErrSecurity) {
		t.Error("errors.Is(err, ErrSecurity) = false")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = true for a security error")
	}
	// Wrapped once more it still matches.
	if !errors.Is(fmt.Errorf("handler: %w", err), ErrSecurity) {
		t.Error("wrapped error lost its kind")
	}
}

func TestNewf_WrapsCause(t *testing.T) {
	cause := errors.New("no such file")
	err := Newf(KindNotFound, "read config: %w", cause)
	if !errors.Is(err, cause) {
		t.Error("cause from %w not unwrappable")
	}
	if err.Error() != "read config: no such file" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestSuggest(t *testing.T) {
	err := NotFoundf("file %q does not exist", "a.txt").Suggest("fs_list")
	if err.SuggestionTool != "fs_list" {
		t.Errorf("suggestion = %q, want fs_list", err.SuggestionTool)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{Blockedf("tool is blocked by policy"), KindBlocked},
		{fmt.Errorf("x: %w", Timeoutf("deadline")), KindTimeout},
		{errors.New("plain"), KindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
