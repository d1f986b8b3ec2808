package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshcomm/didcomm-mediator/internal/merr"
	"github.com/meshcomm/didcomm-mediator/pkg/did"
	"github.com/meshcomm/didcomm-mediator/pkg/didcomm"
)

// RoutingHandler implements component I: receiving a forward message,
// checking the sender's and next hop's ACLs, and either queueing the
// inner message for the next hop (if it's a local account) or re-packing
// and forwarding it onward, per spec §4.I.
type RoutingHandler struct {
	Resolver did.Resolver
	Secrets  did.SecretStore
	Accounts AccountStore
	Store    MessageStore
	Stream   *StreamTask
	Mediator string // this mediator's own DID
}

// ErrLoopbackRefused marks a forward whose "next" resolves to this
// mediator's own DID, an immediate routing loop (spec §4.I).
type ErrLoopbackRefused struct{}

func (ErrLoopbackRefused) Error() string { return "forward next hop resolves to self" }

// ErrNotForwardable marks a forward refused on ACL or access-list grounds —
// either side may lack send_forwarded/receive_forwarded/anon_receive, or
// the sender's access-list may not admit the next hop (spec §4.F, §4.I
// steps 3-5).
type ErrNotForwardable struct {
	DID    string
	Reason string
}

func (e *ErrNotForwardable) Error() string {
	return fmt.Sprintf("account %s is not forwardable: %s", e.DID, e.Reason)
}

// HandleForward processes one already-unwrapped Forward Plaintext, per
// spec §4.I's pipeline: if "next" names a locally-provisioned account,
// the inner message is queued (or live-streamed) for it; otherwise it is
// an error, since this mediator never re-packs onward to a third-party
// mediator on a local account's behalf (only the originating client's
// PackEncrypted call does the multi-hop walk, per spec §4.C).
//
// caller is the session DID the forward arrived under (used for
// accounting and the send_forwarded/access-list checks even when
// anonymous is true — spec §9 "Anonymous forward authorization": the
// sender account used for accounting is always the session's own DID,
// never "anonymous"). anonymous additionally gates the next account's
// anon_receive bit, independently of the send-side check.
func (h *RoutingHandler) HandleForward(ctx context.Context, caller string, anonymous bool, fwd didcomm.Plaintext) error {
	next, inner, err := didcomm.ForwardNext(fwd)
	if err != nil {
		return err
	}
	if next == h.Mediator {
		return ErrLoopbackRefused{}
	}

	senderAccount, ok := h.Accounts.Get(caller)
	if !ok {
		senderAccount = Account{DID: caller, ACL: DefaultACL, AccessList: make(AccessList)}
	}
	if senderAccount.ACL.Has(ACLBlocked) || !senderAccount.ACL.Has(ACLSendForwarded) {
		return &ErrNotForwardable{DID: caller, Reason: "sender lacks send_forwarded"}
	}

	account, ok := h.Accounts.Get(next)
	if !ok {
		return &did.ErrNotResolved{DID: next, Reason: "no such local account"}
	}
	if account.ACL.Has(ACLBlocked) || !account.ACL.Has(ACLReceiveForwarded) {
		return &ErrNotForwardable{DID: next, Reason: "recipient lacks receive_forwarded"}
	}
	if anonymous && !account.ACL.Has(ACLAnonReceive) {
		return &ErrNotForwardable{DID: next, Reason: "recipient lacks anon_receive"}
	}
	if !senderAccount.AccessList.Permits(next, senderAccount.ACL.AccessListDeny()) {
		return &ErrNotForwardable{DID: next, Reason: "sender's access-list does not admit recipient"}
	}

	if h.Stream != nil && h.Stream.Publish(next, inner) {
		return nil
	}
	return h.queue(next, inner, account)
}

func (h *RoutingHandler) queue(recipient string, inner json.RawMessage, account Account) error {
	now := time.Now()
	msg := QueuedMessage{
		ID:         NewQueuedMessageID(now),
		Recipient:  recipient,
		Body:       inner,
		ReceivedAt: now,
	}
	if err := h.Store.Enqueue(recipient, msg, account.QueueSoftLimit); err != nil {
		return merr.Wrap(merr.CodeStore, "routing.queue", err)
	}
	return nil
}
