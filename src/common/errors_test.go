package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsErr(t *testing.T) {
	cause := errors.New("boom")
	err := NewErr(NegotiationFailure, "alice", "create offer", cause)

	if !IsErr(err, NegotiationFailure) {
		t.Fatalf("expected NegotiationFailure")
	}

	if IsErr(err, TransportFailure) {
		t.Fatalf("did not expect TransportFailure")
	}

	wrapped := fmt.Errorf("while negotiating: %w", err)
	if !IsErr(wrapped, NegotiationFailure) {
		t.Fatalf("expected wrapped NegotiationFailure")
	}

	if !errors.Is(err, cause) {
		t.Fatalf("cause should be reachable with errors.Is")
	}

	if IsErr(cause, NegotiationFailure) {
		t.Fatalf("plain error should not be classified")
	}
}

func TestErrString(t *testing.T) {
	err := NewErr(ResourceUnavailable, "", "camera", errors.New("no device"))
	expected := "Resource Unavailable, camera: no device"
	if err.Error() != expected {
		t.Fatalf("error string should be %q, not %q", expected, err.Error())
	}
}
