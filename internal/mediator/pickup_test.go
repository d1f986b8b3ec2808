package mediator

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHandleStatusRequestReportsQueueTotals(t *testing.T) {
	store := NewMemoryMessageStore()
	h := &PickupHandler{Store: store}

	now := time.Now()
	_ = store.Enqueue("did:example:bob", QueuedMessage{ID: NewQueuedMessageID(now), ReceivedAt: now, Body: []byte(`{"a":1}`)}, QueueUnlimited)
	_ = store.Enqueue("did:example:bob", QueuedMessage{ID: NewQueuedMessageID(now.Add(time.Second)), ReceivedAt: now.Add(time.Second), Body: []byte(`{"bb":2}`)}, QueueUnlimited)

	reply, err := h.HandleStatusRequest("did:example:bob", StatusRequestBody{})
	if err != nil {
		t.Fatalf("HandleStatusRequest: %v", err)
	}

	var resp StatusBody
	if err := json.Unmarshal(reply.Body, &resp); err != nil {
		t.Fatalf("unmarshal status body: %v", err)
	}
	if resp.RecipientDID != "did:example:bob" {
		t.Fatalf("recipient_did = %q, want did:example:bob", resp.RecipientDID)
	}
	if resp.MessageCount != 2 {
		t.Fatalf("message_count = %d, want 2", resp.MessageCount)
	}
	if resp.TotalBytes != len(`{"a":1}`)+len(`{"bb":2}`) {
		t.Fatalf("total_bytes = %d, want %d", resp.TotalBytes, len(`{"a":1}`)+len(`{"bb":2}`))
	}
	if resp.OldestReceivedTime == nil || *resp.OldestReceivedTime != now.Unix() {
		t.Fatalf("oldest_received_time = %v, want %d", resp.OldestReceivedTime, now.Unix())
	}
	if resp.NewestReceivedTime == nil || *resp.NewestReceivedTime != now.Add(time.Second).Unix() {
		t.Fatalf("newest_received_time = %v, want %d", resp.NewestReceivedTime, now.Add(time.Second).Unix())
	}
	if resp.LongestWaitedSeconds < 0 {
		t.Fatalf("longest_waited_seconds = %d, want >= 0", resp.LongestWaitedSeconds)
	}
}

func TestHandleStatusRequestEmptyQueueOmitsTimestamps(t *testing.T) {
	h := &PickupHandler{Store: NewMemoryMessageStore()}

	reply, err := h.HandleStatusRequest("did:example:bob", StatusRequestBody{})
	if err != nil {
		t.Fatalf("HandleStatusRequest: %v", err)
	}

	var resp StatusBody
	if err := json.Unmarshal(reply.Body, &resp); err != nil {
		t.Fatalf("unmarshal status body: %v", err)
	}
	if resp.MessageCount != 0 || resp.TotalBytes != 0 {
		t.Fatalf("expected a zeroed status body for an empty queue, got %+v", resp)
	}
	if resp.OldestReceivedTime != nil || resp.NewestReceivedTime != nil {
		t.Fatalf("expected nil timestamps for an empty queue, got %+v", resp)
	}
}

func TestHandleStatusRequestRejectsMismatchedRecipientDID(t *testing.T) {
	h := &PickupHandler{Store: NewMemoryMessageStore()}

	_, err := h.HandleStatusRequest("did:example:bob", StatusRequestBody{RecipientDID: "did:example:mallory"})
	mismatch, ok := err.(*ErrRecipientMismatch)
	if !ok {
		t.Fatalf("expected *ErrRecipientMismatch, got %T: %v", err, err)
	}
	if mismatch.Caller != "did:example:bob" || mismatch.RecipientDID != "did:example:mallory" {
		t.Fatalf("unexpected mismatch fields: %+v", mismatch)
	}
}

func TestHandleStatusRequestAcceptsMatchingRecipientDID(t *testing.T) {
	h := &PickupHandler{Store: NewMemoryMessageStore()}

	if _, err := h.HandleStatusRequest("did:example:bob", StatusRequestBody{RecipientDID: "did:example:bob"}); err != nil {
		t.Fatalf("HandleStatusRequest should accept a recipient_did matching the caller: %v", err)
	}
}

func TestHandleStatusRequestReportsLiveDelivery(t *testing.T) {
	stream := NewStreamTask(zap.NewNop())
	done := make(chan struct{})
	go stream.Run(done)
	defer close(done)

	stream.SetLive("did:example:bob", true)

	h := &PickupHandler{Store: NewMemoryMessageStore(), Stream: stream}
	reply, err := h.HandleStatusRequest("did:example:bob", StatusRequestBody{})
	if err != nil {
		t.Fatalf("HandleStatusRequest: %v", err)
	}
	var resp StatusBody
	if err := json.Unmarshal(reply.Body, &resp); err != nil {
		t.Fatalf("unmarshal status body: %v", err)
	}
	if !resp.LiveDelivery {
		t.Fatalf("expected live_delivery true after SetLive")
	}
}

// TestHandleDeliveryRequestSuspendedWhenQueueDisabled is Testable Property
// 10's other half: QueueDisabled still admits enqueues (see
// store_test.go's TestMessageStoreQueueDisabledStillAdmits) but refuses the
// explicit pull.
func TestHandleDeliveryRequestSuspendedWhenQueueDisabled(t *testing.T) {
	accounts := NewMemoryAccounts()
	accounts.Put(Account{DID: "did:example:bob", ACL: DefaultACL, QueueSoftLimit: QueueDisabled, QueueHardLimit: QueueDisabled})

	h := &PickupHandler{Store: NewMemoryMessageStore(), Accounts: accounts}
	_, err := h.HandleDeliveryRequest("did:example:bob", DeliveryRequestBody{Limit: 10})
	if _, ok := err.(*ErrDeliverySuspended); !ok {
		t.Fatalf("expected *ErrDeliverySuspended for a QueueDisabled account, got %T: %v", err, err)
	}
}

func TestHandleDeliveryRequestNotSuspendedByDefault(t *testing.T) {
	accounts := NewMemoryAccounts()
	accounts.Put(Account{DID: "did:example:bob", ACL: DefaultACL, QueueSoftLimit: QueueUnlimited, QueueHardLimit: QueueUnlimited})

	h := &PickupHandler{Store: NewMemoryMessageStore(), Accounts: accounts}
	if _, err := h.HandleDeliveryRequest("did:example:bob", DeliveryRequestBody{Limit: 10}); err != nil {
		t.Fatalf("HandleDeliveryRequest should succeed for a normal account: %v", err)
	}
}
