package didcomm

import (
	"encoding/json"
	"fmt"
)

// ProblemReport is the DIDComm structured-error message type (spec §7),
// dispatched the way any other Plaintext is but with a fixed Type and a
// dotted code of the form "<sorter>.<scope>.<code>".
type ProblemReport struct {
	Code      string            `json:"code"`
	Comment   string            `json:"comment,omitempty"`
	Args      []string          `json:"args,omitempty"`
	EscalateTo string           `json:"escalate_to,omitempty"`
}

// ProblemReportType is the fixed message type string for problem reports.
const ProblemReportType = "https://didcomm.org/report-problem/2.0/problem-report"

// Sorter is the leading segment of a Problem Report code: "e" (error) or
// "w" (warning), per spec §7.
type Sorter string

const (
	SorterError   Sorter = "e"
	SorterWarning Sorter = "w"
)

// Scope is the second segment of a Problem Report code.
type Scope string

const (
	ScopeProtocol Scope = "p" // protocol-level, e.g. malformed message
	ScopeTrust    Scope = "t" // trust-level, e.g. verification failure
	ScopeMessage  Scope = "m" // message-specific, e.g. unintelligible body
)

// NewCode builds a dotted Problem Report code from its three segments.
func NewCode(sorter Sorter, scope Scope, code string) string {
	return fmt.Sprintf("%s.%s.%s", sorter, scope, code)
}

// CodeFor maps one of this package's typed errors onto a Problem Report
// code, so the dispatch layer never needs a second switch over error
// types (spec §7's stated goal for typed errors carrying their own code).
func CodeFor(err error) string {
	switch err.(type) {
	case *ErrMalformedEnvelope:
		return NewCode(SorterError, ScopeProtocol, "msg_parse_failure")
	case *ErrUnsupportedCrypto, *ErrNoCompatibleCrypto:
		return NewCode(SorterError, ScopeProtocol, "req_not_accepted")
	case *ErrVerificationFailed:
		return NewCode(SorterError, ScopeTrust, "crypto_failure")
	case *ErrMessageExpired:
		return NewCode(SorterWarning, ScopeMessage, "msg_expired")
	case *ErrForwardLoop:
		return NewCode(SorterError, ScopeProtocol, "forward_loop")
	default:
		return NewCode(SorterError, ScopeProtocol, "internal")
	}
}

// NewProblemReport builds a ProblemReport body from a typed error.
func NewProblemReport(err error, comment string) ProblemReport {
	return ProblemReport{Code: CodeFor(err), Comment: comment}
}

// ToPlaintext wraps a ProblemReport into a Plaintext message from from,
// addressed to to, threaded onto thid, the shape the mediator and the client
// state machine exchange on failure.
func (p ProblemReport) ToPlaintext(from string, to, thid string) (Plaintext, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Plaintext{}, err
	}
	return Plaintext{
		Type:     ProblemReportType,
		From:     from,
		To:       []string{to},
		ThreadID: thid,
		Body:     body,
	}, nil
}
