package mediator

import "testing"

func newAdminHandler() (*AdminHandler, AccountStore) {
	accounts := NewMemoryAccounts()
	h := &AdminHandler{
		Accounts:   accounts,
		MyDID:      "did:example:mediator",
		RootAdmin:  "did:example:root",
		DefaultACL: DefaultACL,
		SoftLimit:  10,
		HardLimit:  20,
	}
	return h, accounts
}

func TestHandleAccountCreateProvisionsWithDefaultACL(t *testing.T) {
	h, accounts := newAdminHandler()

	resp, err := h.HandleAccountCreate(AccountCreateBody{DID: "did:example:alice"})
	if err != nil {
		t.Fatalf("HandleAccountCreate: %v", err)
	}
	if resp.DID != "did:example:alice" {
		t.Fatalf("DID = %q, want did:example:alice", resp.DID)
	}
	if ACL(resp.ACL) != DefaultACL {
		t.Fatalf("ACL = %v, want DefaultACL", ACL(resp.ACL))
	}

	acc, ok := accounts.Get("did:example:alice")
	if !ok {
		t.Fatalf("account was not provisioned in the store")
	}
	if acc.QueueSoftLimit != 10 || acc.QueueHardLimit != 20 {
		t.Fatalf("queue limits = %d/%d, want 10/20", acc.QueueSoftLimit, acc.QueueHardLimit)
	}
}

func TestHandleAccountCreateIsIdempotent(t *testing.T) {
	h, accounts := newAdminHandler()

	first, err := h.HandleAccountCreate(AccountCreateBody{DID: "did:example:alice"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	accounts.Put(Account{DID: "did:example:alice", ACL: ACLAccessAllConnections, QueueSoftLimit: 10, QueueHardLimit: 20})

	second, err := h.HandleAccountCreate(AccountCreateBody{DID: "did:example:alice"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ACL == second.ACL {
		t.Fatalf("expected second create to report the externally-modified ACL, not re-provision defaults")
	}
}

func TestHandleAccountRemoveRefusesProtectedAccounts(t *testing.T) {
	h, _ := newAdminHandler()

	if err := h.HandleAccountRemove(AccountRemoveBody{DID: h.MyDID}); err == nil {
		t.Fatalf("expected error removing the mediator's own DID")
	} else if _, ok := err.(*ErrProtectedAccount); !ok {
		t.Fatalf("expected *ErrProtectedAccount, got %T: %v", err, err)
	}

	if err := h.HandleAccountRemove(AccountRemoveBody{DID: h.RootAdmin}); err == nil {
		t.Fatalf("expected error removing the configured root admin")
	}
}

func TestHandleAccountRemoveDeletesOrdinaryAccount(t *testing.T) {
	h, accounts := newAdminHandler()
	h.HandleAccountCreate(AccountCreateBody{DID: "did:example:alice"})

	if err := h.HandleAccountRemove(AccountRemoveBody{DID: "did:example:alice"}); err != nil {
		t.Fatalf("HandleAccountRemove: %v", err)
	}
	if _, ok := accounts.Get("did:example:alice"); ok {
		t.Fatalf("account still present after removal")
	}
}

func TestHandleACLSetSelfServiceDeniedPrivilegedBit(t *testing.T) {
	h, _ := newAdminHandler()
	h.HandleAccountCreate(AccountCreateBody{DID: "did:example:alice"})

	requested := uint32(DefaultACL | ACLAccessAllConnections)
	result, err := h.HandleACLSet(ACLSetBody{DID: "did:example:alice", ACL: requested}, "did:example:alice")
	if err != nil {
		t.Fatalf("HandleACLSet: %v", err)
	}
	if ACL(result.Applied.ACL).Has(ACLAccessAllConnections) {
		t.Fatalf("self-service request was able to set ACLAccessAllConnections")
	}
	if len(result.Denied) == 0 {
		t.Fatalf("expected at least one denied transition")
	}
}

func TestHandleACLSetAdministratorGrantsPrivilegedBit(t *testing.T) {
	h, _ := newAdminHandler()
	h.HandleAccountCreate(AccountCreateBody{DID: "did:example:alice"})

	requested := uint32(DefaultACL | ACLAccessAllConnections)
	result, err := h.HandleACLSet(ACLSetBody{DID: "did:example:alice", ACL: requested}, h.RootAdmin)
	if err != nil {
		t.Fatalf("HandleACLSet: %v", err)
	}
	if !ACL(result.Applied.ACL).Has(ACLAccessAllConnections) {
		t.Fatalf("administrator request should have been able to set ACLAccessAllConnections")
	}
	if len(result.Denied) != 0 {
		t.Fatalf("administrator request should not have any denied transitions, got %v", result.Denied)
	}
}

func TestHandleQueueLimitsSetUpdatesAccount(t *testing.T) {
	h, accounts := newAdminHandler()
	h.HandleAccountCreate(AccountCreateBody{DID: "did:example:alice"})

	if err := h.HandleQueueLimitsSet(QueueLimitsBody{DID: "did:example:alice", SoftLimit: -1, HardLimit: -2}); err != nil {
		t.Fatalf("HandleQueueLimitsSet: %v", err)
	}
	acc, _ := accounts.Get("did:example:alice")
	if acc.QueueSoftLimit != -1 || acc.QueueHardLimit != -2 {
		t.Fatalf("queue limits = %d/%d, want -1/-2", acc.QueueSoftLimit, acc.QueueHardLimit)
	}
}
