package mediator

import (
	"encoding/json"
	"fmt"
)

// Admin protocol message types, component K (spec §4's admin protocol,
// supplemented from original_source's accounts.rs/acls.rs per
// SPEC_FULL.md §3).
const (
	TypeAccountCreate    = "https://didcomm.org/mediator/1.0/account-create"
	TypeAccountCreated   = "https://didcomm.org/mediator/1.0/account-created"
	TypeAccountRemove    = "https://didcomm.org/mediator/1.0/account-remove"
	TypeAccountRemoved   = "https://didcomm.org/mediator/1.0/account-removed"
	TypeACLGet           = "https://didcomm.org/mediator/1.0/acl-get"
	TypeACLGetResponse   = "https://didcomm.org/mediator/1.0/acl-get-response"
	TypeACLSet           = "https://didcomm.org/mediator/1.0/acl-set"
	TypeACLSetResponse   = "https://didcomm.org/mediator/1.0/acl-set-response"
	TypeQueueLimitsGet   = "https://didcomm.org/mediator/1.0/queue-limits-get"
	TypeQueueLimitsSet   = "https://didcomm.org/mediator/1.0/queue-limits-set"
)

// ErrProtectedAccount marks an attempt to remove the mediator's own
// account or the configured RootAdmin, both protected per
// original_source's accounts.rs.
type ErrProtectedAccount struct {
	DID string
}

func (e *ErrProtectedAccount) Error() string {
	return fmt.Sprintf("account %s is protected and cannot be removed", e.DID)
}

// AdminHandler implements the account-lifecycle and ACL-management half
// of component K.
type AdminHandler struct {
	Accounts   AccountStore
	MyDID      string // this mediator's own DID, protected from removal
	RootAdmin  string // the configured root administrator DID, also protected
	DefaultACL ACL
	SoftLimit  int
	HardLimit  int
}

// AccountCreateBody requests provisioning of a new account.
type AccountCreateBody struct {
	DID string `json:"did"`
}

// AccountCreatedBody reports the account as provisioned.
type AccountCreatedBody struct {
	DID string `json:"did"`
	ACL uint32 `json:"acl"`
}

// HandleAccountCreate provisions did with h.DefaultACL if it does not
// already exist.
func (h *AdminHandler) HandleAccountCreate(req AccountCreateBody) (AccountCreatedBody, error) {
	acc := Provision(h.Accounts, req.DID, h.DefaultACL, h.SoftLimit, h.HardLimit)
	return AccountCreatedBody{DID: acc.DID, ACL: uint32(acc.ACL)}, nil
}

// AccountRemoveBody names an account to remove.
type AccountRemoveBody struct {
	DID string `json:"did"`
}

// HandleAccountRemove removes an account, refusing to remove the
// mediator's own DID or the RootAdmin.
func (h *AdminHandler) HandleAccountRemove(req AccountRemoveBody) error {
	if req.DID == h.MyDID || req.DID == h.RootAdmin {
		return &ErrProtectedAccount{DID: req.DID}
	}
	h.Accounts.Remove(req.DID)
	return nil
}

// ACLGetBody names the account whose ACL is being queried.
type ACLGetBody struct {
	DID string `json:"did"`
}

// ACLResponseBody reports an account's current ACL bitset.
type ACLResponseBody struct {
	DID string `json:"did"`
	ACL uint32 `json:"acl"`
}

// HandleACLGet reports did's current ACL.
func (h *AdminHandler) HandleACLGet(req ACLGetBody) (ACLResponseBody, error) {
	acc, ok := h.Accounts.Get(req.DID)
	if !ok {
		return ACLResponseBody{}, fmt.Errorf("no such account %s", req.DID)
	}
	return ACLResponseBody{DID: acc.DID, ACL: uint32(acc.ACL)}, nil
}

// ACLSetBody requests a new ACL value for an account, subject to the
// self-manageable-bits restriction enforced by Diff unless isAdmin.
type ACLSetBody struct {
	DID string `json:"did"`
	ACL uint32 `json:"acl"`
}

// ACLSetResult reports the ACL actually applied and anything the
// requester was not permitted to change (Testable Property 6).
type ACLSetResult struct {
	Applied ACLResponseBody
	Denied  []DeniedTransition
}

// HandleACLSet applies req, restricted to self-manageable bits unless
// requestedBy is an administrator (requestedBy == DID being changed means
// self-service; requestedBy == RootAdmin means administrator).
func (h *AdminHandler) HandleACLSet(req ACLSetBody, requestedBy string) (ACLSetResult, error) {
	acc, ok := h.Accounts.Get(req.DID)
	if !ok {
		return ACLSetResult{}, fmt.Errorf("no such account %s", req.DID)
	}
	isAdmin := requestedBy == h.RootAdmin || requestedBy == h.MyDID
	allowed, denied := Diff(acc.ACL, ACL(req.ACL), acc.SelfManageable, isAdmin)
	acc.ACL = allowed
	h.Accounts.Put(acc)
	return ACLSetResult{Applied: ACLResponseBody{DID: acc.DID, ACL: uint32(acc.ACL)}, Denied: denied}, nil
}

// QueueLimitsBody sets or reports an account's soft/hard queue limits
// (QueueUnlimited/QueueDisabled sentinels per spec §4.H).
type QueueLimitsBody struct {
	DID       string `json:"did"`
	SoftLimit int    `json:"soft_limit"`
	HardLimit int    `json:"hard_limit"`
}

// HandleQueueLimitsSet updates an account's queue limits.
func (h *AdminHandler) HandleQueueLimitsSet(req QueueLimitsBody) error {
	acc, ok := h.Accounts.Get(req.DID)
	if !ok {
		return fmt.Errorf("no such account %s", req.DID)
	}
	acc.QueueSoftLimit = req.SoftLimit
	acc.QueueHardLimit = req.HardLimit
	h.Accounts.Put(acc)
	return nil
}

// marshalBody is a small helper admin handlers' callers use to fold a
// typed response into a Plaintext body.
func marshalBody(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
