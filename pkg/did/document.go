package did

import "encoding/json"

// VerificationMethod describes one key a DID document publishes, per
// spec §3 "Verification Method". Lifecycle: immutable within a document
// version; rotation happens by publishing a new document version.
type VerificationMethod struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Controller string          `json:"controller"`
	Multibase  string          `json:"publicKeyMultibase,omitempty"`
	JWK        json.RawMessage `json:"publicKeyJwk,omitempty"`
}

// KeyBytes decodes this verification method's public key material,
// preferring multibase (the teacher's multibase-backed did:key style)
// and falling back to extracting the raw "x"/"y" coordinates of a JWK.
func (v VerificationMethod) KeyBytes() ([]byte, error) {
	if v.Multibase != "" {
		return DecodeMultikey(v.Multibase)
	}
	if len(v.JWK) > 0 {
		return jwkPublicKeyBytes(v.JWK)
	}
	return nil, &ErrNoKeyMaterial{VerificationMethodID: v.ID}
}

// ErrNoKeyMaterial is returned when a verification method carries neither
// a multibase key nor a JWK.
type ErrNoKeyMaterial struct {
	VerificationMethodID string
}

func (e *ErrNoKeyMaterial) Error() string {
	return "no key material on verification method " + e.VerificationMethodID
}

// Service is a DID document service endpoint. DIDComm messaging services
// carry a "routingKeys" array and a "serviceEndpoint" URI used by the
// forward-wrapping pipeline (spec §4.C).
type Service struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	Accept          []string `json:"accept,omitempty"`
}

// Document is the subset of a DID document the envelope engine reads:
// verification methods and service endpoints. Everything else (proofs,
// alsoKnownAs, controller chains) is the resolver's concern, not ours.
type Document struct {
	ID                   string                `json:"id"`
	VerificationMethod   []VerificationMethod  `json:"verificationMethod"`
	KeyAgreement         []string              `json:"keyAgreement"`
	Authentication       []string              `json:"authentication"`
	AssertionMethod      []string              `json:"assertionMethod"`
	Service              []Service             `json:"service,omitempty"`
}

// VerificationMethodByID returns the verification method whose id matches
// (either the full DID-URL or just the fragment).
func (d Document) VerificationMethodByID(id string) (VerificationMethod, bool) {
	for _, vm := range d.VerificationMethod {
		if vm.ID == id || "#"+fragmentOf(vm.ID) == "#"+fragmentOf(id) {
			return vm, true
		}
	}
	return VerificationMethod{}, false
}

// KeyAgreementMethods resolves the keyAgreement id list into full
// VerificationMethod values, the recipient-key expansion pack() needs.
func (d Document) KeyAgreementMethods() []VerificationMethod {
	return d.resolveRefs(d.KeyAgreement)
}

// AuthenticationMethods resolves the authentication id list into full
// VerificationMethod values. JWS verification in pkg/didcomm looks the
// signing kid up with VerificationMethodByID instead.
func (d Document) AuthenticationMethods() []VerificationMethod {
	return d.resolveRefs(d.Authentication)
}

func (d Document) resolveRefs(ids []string) []VerificationMethod {
	out := make([]VerificationMethod, 0, len(ids))
	for _, id := range ids {
		if vm, ok := d.VerificationMethodByID(id); ok {
			out = append(out, vm)
		}
	}
	return out
}

// MessagingServices filters Service entries whose type identifies a
// DIDComm messaging endpoint (the ones forward-wrapping walks).
func (d Document) MessagingServices() []Service {
	var out []Service
	for _, s := range d.Service {
		if s.Type == "DIDCommMessaging" {
			out = append(out, s)
		}
	}
	return out
}

func fragmentOf(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '#' {
			return id[i+1:]
		}
	}
	return id
}

func jwkPublicKeyBytes(raw json.RawMessage) ([]byte, error) {
	var jwk struct {
		X string `json:"x"`
		Y string `json:"y"`
	}
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return nil, err
	}
	x, err := base64URLDecode(jwk.X)
	if err != nil || jwk.Y == "" {
		return x, err
	}
	y, err := base64URLDecode(jwk.Y)
	if err != nil {
		return nil, err
	}
	return append(x, y...), nil
}
