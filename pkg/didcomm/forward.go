package didcomm

import "encoding/json"

// ForwardType is the fixed message type for a routing Forward message,
// component D / I: a mediator-addressed envelope wrapping an inner,
// opaque message for `next`.
const ForwardType = "https://didcomm.org/routing/2.0/forward"

// ForwardBody is the body of a Forward Plaintext message.
type ForwardBody struct {
	Next string `json:"next"`
}

// WrapForward builds the Plaintext "forward" message carrying innerJWE
// (already base64/JSON-serialized) as its sole attachment, addressed to
// mediatorDID and naming next as the true next hop. Per spec §4.C "Forward
// wrapping", this is applied once per routingKey, innermost first.
func WrapForward(mediatorDID, next string, innerJWE json.RawMessage) (Plaintext, error) {
	body, err := json.Marshal(ForwardBody{Next: next})
	if err != nil {
		return Plaintext{}, err
	}
	return Plaintext{
		Type: ForwardType,
		To:   []string{mediatorDID},
		Body: body,
		Attachments: []Attachment{{
			ID:   "forward-msg",
			Data: AttachmentData{JSON: innerJWE},
		}},
	}, nil
}

// IsForward reports whether a decoded Plaintext is a routing Forward
// message.
func IsForward(p Plaintext) bool {
	return p.Type == ForwardType
}

// ForwardNext extracts the `next` field and inner attachment payload from
// a Forward Plaintext, the two things routing.go's handler needs to
// re-pack and re-send toward the next hop.
func ForwardNext(p Plaintext) (next string, inner json.RawMessage, err error) {
	var body ForwardBody
	if err := json.Unmarshal(p.Body, &body); err != nil {
		return "", nil, &ErrMalformedEnvelope{Reason: "forward body: " + err.Error()}
	}
	if len(p.Attachments) == 0 || p.Attachments[0].Data.Kind() != AttachmentJSON {
		return "", nil, &ErrMalformedEnvelope{Reason: "forward message missing inner JSON attachment"}
	}
	return body.Next, p.Attachments[0].Data.JSON, nil
}

// loopDetector tracks the `next` hops already unwrapped in one forward
// chain, refusing to re-enter an address already seen (spec §4.I loop
// refusal, Testable Property "forward loop refusal").
type loopDetector struct {
	seen map[string]bool
}

func newLoopDetector() *loopDetector {
	return &loopDetector{seen: make(map[string]bool)}
}

func (l *loopDetector) enter(next string) error {
	if l.seen[next] {
		return &ErrForwardLoop{Next: next}
	}
	l.seen[next] = true
	return nil
}
