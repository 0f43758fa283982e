package remote

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyTransient(t *testing.T) {
	cases := []string{
		"read tcp 127.0.0.1:52114: connection reset by peer",
		"an existing connection was forcibly closed by the remote host",
		"dial tcp 127.0.0.1:11434: connect: connection refused",
		"context deadline exceeded (Client.Timeout exceeded)",
		"backend /api/ps: 503 Service Unavailable: try later",
		"write: broken pipe",
	}
	for _, msg := range cases {
		if got := Classify(errors.New(msg)); got != ClassTransient {
			t.Fatalf("Classify(%q) = %s, want transient", msg, got)
		}
	}
}

func TestClassifyPermanent(t *testing.T) {
	cases := []string{
		"backend /api/show: 404 Not Found: model does not exist",
		"invalid model name",
		"401 unauthorized",
		"403 Forbidden",
		"no such file or directory",
		"pull model manifest: unsupported architecture",
	}
	for _, msg := range cases {
		if got := Classify(errors.New(msg)); got != ClassPermanent {
			t.Fatalf("Classify(%q) = %s, want permanent", msg, got)
		}
	}
}

func TestClassifyPermanentWinsOverTransient(t *testing.T) {
	// an error naming a missing target is permanent even when the text
	// also mentions a connection
	err := errors.New("connection reset while fetching: model not found")
	if got := Classify(err); got != ClassPermanent {
		t.Fatalf("Classify = %s, want permanent", got)
	}
}

func TestClassifyUnmatchedDefaultsPermanent(t *testing.T) {
	if got := Classify(errors.New("some novel failure mode")); got != ClassPermanent {
		t.Fatalf("unmatched error should default to permanent, got %s", got)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Fatalf("WrapError(nil) should be nil")
	}
}

func TestIsTransientThroughWrapping(t *testing.T) {
	inner := WrapError("ps", errors.New("connection reset"))
	outer := fmt.Errorf("refresh: %w", inner)
	if !IsTransient(outer) {
		t.Fatalf("expected transient through wrapping")
	}
	if IsPermanent(outer) {
		t.Fatalf("transient error misreported as permanent")
	}
	if IsTransient(errors.New("plain")) {
		t.Fatalf("plain error should not be transient")
	}
}
