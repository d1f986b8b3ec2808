package didcomm

import (
	"encoding/json"
	"testing"
)

// TestWrapForwardForwardNextRoundTrip is Testable Property: wrapping an
// inner JWE as a Forward message and then extracting it back with
// ForwardNext returns the same next hop and inner payload.
func TestWrapForwardForwardNextRoundTrip(t *testing.T) {
	inner := json.RawMessage(`{"ciphertext":"abc"}`)
	fwd, err := WrapForward("did:example:mediator", "did:example:bob", inner)
	if err != nil {
		t.Fatalf("WrapForward: %v", err)
	}
	if !IsForward(fwd) {
		t.Fatalf("IsForward = false for a wrapped forward message")
	}

	next, got, err := ForwardNext(fwd)
	if err != nil {
		t.Fatalf("ForwardNext: %v", err)
	}
	if next != "did:example:bob" {
		t.Fatalf("next = %q, want did:example:bob", next)
	}
	if string(got) != string(inner) {
		t.Fatalf("inner = %s, want %s", got, inner)
	}
}

func TestForwardNextRejectsMissingAttachment(t *testing.T) {
	body, _ := json.Marshal(ForwardBody{Next: "did:example:bob"})
	fwd := Plaintext{Type: ForwardType, Body: body}

	_, _, err := ForwardNext(fwd)
	if err == nil {
		t.Fatalf("expected error for forward message with no attachment")
	}
	if _, ok := err.(*ErrMalformedEnvelope); !ok {
		t.Fatalf("expected *ErrMalformedEnvelope, got %T: %v", err, err)
	}
}

func TestForwardNextRejectsNonJSONAttachment(t *testing.T) {
	body, _ := json.Marshal(ForwardBody{Next: "did:example:bob"})
	fwd := Plaintext{
		Type: ForwardType,
		Body: body,
		Attachments: []Attachment{
			{ID: "forward-msg", Data: AttachmentData{Base64: "c29tZQ=="}},
		},
	}

	_, _, err := ForwardNext(fwd)
	if err == nil {
		t.Fatalf("expected error for forward message with a base64 (not json) attachment")
	}
}

// TestLoopDetectorRefusesRepeatedHop is Testable Property "forward loop
// refusal": entering the same next hop twice in one chain is refused.
func TestLoopDetectorRefusesRepeatedHop(t *testing.T) {
	ld := newLoopDetector()
	if err := ld.enter("did:example:mediator-a"); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	if err := ld.enter("did:example:mediator-b"); err != nil {
		t.Fatalf("second distinct enter: %v", err)
	}
	err := ld.enter("did:example:mediator-a")
	if err == nil {
		t.Fatalf("expected loop-refusal error re-entering an already-seen hop")
	}
	if _, ok := err.(*ErrForwardLoop); !ok {
		t.Fatalf("expected *ErrForwardLoop, got %T: %v", err, err)
	}
}
