package did

import "testing"

func TestParseValid(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Reference
	}{
		{"bare did", "did:example:123", Reference{Method: "example", MethodSpecificID: "123"}},
		{"with fragment", "did:example:123#key-1", Reference{Method: "example", MethodSpecificID: "123", Fragment: "key-1"}},
		{"with path", "did:web:example.com/path/to/doc", Reference{Method: "web", MethodSpecificID: "example.com", Path: "/path/to/doc"}},
		{"with query", "did:example:123?service=agent", Reference{Method: "example", MethodSpecificID: "123", Query: "service=agent"}},
		{"percent encoded msid", "did:example:123%20456", Reference{Method: "example", MethodSpecificID: "123%20456"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
			if got.String() != tc.in {
				t.Fatalf("String() round-trip = %q, want %q", got.String(), tc.in)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"example:123",
		"did:Example:123",
		"did::123",
		"did:example:",
		"did:example:123%",
		"did:example:123%gg",
	}
	for _, in := range cases {
		if IsValid(in) {
			t.Fatalf("IsValid(%q) = true, want false", in)
		}
	}
}

func TestReferenceIsURL(t *testing.T) {
	r, err := Parse("did:example:123")
	if err != nil {
		t.Fatal(err)
	}
	if r.IsURL() {
		t.Fatalf("bare DID reported IsURL() = true")
	}
	r, err = Parse("did:example:123#key-1")
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsURL() {
		t.Fatalf("fragmented DID reported IsURL() = false")
	}
	if r.DID() != "did:example:123" {
		t.Fatalf("DID() = %q, want did:example:123", r.DID())
	}
}
