// Package didcomm implements the DIDComm v2 envelope engine: packing a
// Plaintext message into nested signed/encrypted JOSE envelopes and the
// inverse unpack, including forward-wrapping through mediators. This is
// the core of the repository (spec §4.C).
package didcomm

import "encoding/json"

// Plaintext is an application-level DIDComm message body before any
// signing or encryption, per spec §3 "Plaintext Message".
type Plaintext struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Body         json.RawMessage   `json:"body"`
	From         string            `json:"from,omitempty"`
	To           []string          `json:"to,omitempty"`
	ThreadID     string            `json:"thid,omitempty"`
	ParentThID   string            `json:"pthid,omitempty"`
	CreatedTime  *int64            `json:"created_time,omitempty"`
	ExpiresTime  *int64            `json:"expires_time,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	ExtraHeaders map[string]any    `json:"-"`
}

// Attachment carries inlined JSON, base64 bytes, or an external link,
// never more than one of those three data forms at once.
type Attachment struct {
	ID        string         `json:"id"`
	MediaType string         `json:"media_type,omitempty"`
	ByteCount int64          `json:"byte_count,omitempty"`
	Data      AttachmentData `json:"data"`
}

// AttachmentData is a closed sum type over the three forms an attachment's
// payload can take (spec §3 "Plaintext Message"): JSON, Base64, or Links.
type AttachmentData struct {
	JSON   json.RawMessage `json:"json,omitempty"`
	Base64 string          `json:"base64,omitempty"`
	Links  []string        `json:"links,omitempty"`
	Hash   string          `json:"hash,omitempty"`
}

// Kind reports which of the three attachment-data forms is populated.
func (a AttachmentData) Kind() AttachmentKind {
	switch {
	case len(a.JSON) > 0:
		return AttachmentJSON
	case a.Base64 != "":
		return AttachmentBase64
	case len(a.Links) > 0:
		return AttachmentLinks
	default:
		return AttachmentEmpty
	}
}

// AttachmentKind enumerates AttachmentData's closed set of forms.
type AttachmentKind int

const (
	AttachmentEmpty AttachmentKind = iota
	AttachmentJSON
	AttachmentBase64
	AttachmentLinks
)

// MarshalJSON folds ExtraHeaders into the same JSON object as the named
// fields, matching DIDComm's "free-form extra-headers map" requirement
// (spec §3) without a separate wrapper type at call sites.
func (p Plaintext) MarshalJSON() ([]byte, error) {
	type alias Plaintext
	base, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.ExtraHeaders) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.ExtraHeaders {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = encoded
	}
	return json.Marshal(merged)
}

// UnmarshalJSON extracts the named fields and stashes anything else into
// ExtraHeaders.
func (p *Plaintext) UnmarshalJSON(data []byte) error {
	type alias Plaintext
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Plaintext(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"id": true, "type": true, "body": true, "from": true, "to": true,
		"thid": true, "pthid": true, "created_time": true, "expires_time": true,
		"attachments": true,
	}
	extra := make(map[string]any)
	for k, v := range raw {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		extra[k] = val
	}
	if len(extra) > 0 {
		p.ExtraHeaders = extra
	}
	return nil
}

// ExtraHeader fetches an extra header's decoded JSON value, e.g. return_route,
// ephemeral, or delay_milli.
func (p Plaintext) ExtraHeader(key string) (any, bool) {
	v, ok := p.ExtraHeaders[key]
	return v, ok
}
