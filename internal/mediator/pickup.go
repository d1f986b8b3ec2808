package mediator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshcomm/didcomm-mediator/pkg/didcomm"
)

// Pickup protocol message types, per spec §4.H.
const (
	TypeStatusRequest        = "https://didcomm.org/messagepickup/3.0/status-request"
	TypeStatus               = "https://didcomm.org/messagepickup/3.0/status"
	TypeDeliveryRequest      = "https://didcomm.org/messagepickup/3.0/delivery-request"
	TypeDelivery             = "https://didcomm.org/messagepickup/3.0/delivery"
	TypeMessagesReceived     = "https://didcomm.org/messagepickup/3.0/messages-received"
	TypeLiveDeliveryChange   = "https://didcomm.org/messagepickup/3.0/live-delivery-change"
)

// StatusRequestBody optionally names the recipient_did the caller
// expects status for (spec §4.H); when present it must match the
// caller's own session DID.
type StatusRequestBody struct {
	RecipientDID string `json:"recipient_did,omitempty"`
}

// ErrRecipientMismatch marks a status-request (or delivery-request) whose
// optional recipient_did does not match the caller's own session DID.
type ErrRecipientMismatch struct {
	Caller       string
	RecipientDID string
}

func (e *ErrRecipientMismatch) Error() string {
	return fmt.Sprintf("recipient_did %q does not match session DID %q", e.RecipientDID, e.Caller)
}

// StatusBody answers a status-request with the caller's current queue
// depth and delivery posture, per spec §4.H.
type StatusBody struct {
	RecipientDID          string `json:"recipient_did,omitempty"`
	MessageCount          int    `json:"message_count"`
	RecipientKey          string `json:"recipient_key,omitempty"`
	TotalBytes            int    `json:"total_bytes"`
	OldestReceivedTime    *int64 `json:"oldest_received_time,omitempty"`
	NewestReceivedTime    *int64 `json:"newest_received_time,omitempty"`
	LongestWaitedSeconds  int64  `json:"longest_waited_seconds"`
	LiveDelivery          bool   `json:"live_delivery"`
}

// DeliveryRequestBody names how many messages the caller wants, up to
// Limit, and optionally the recipient_did they are for.
type DeliveryRequestBody struct {
	RecipientDID string `json:"recipient_did,omitempty"`
	Limit        int    `json:"limit"`
	RecipientKey string `json:"recipient_key,omitempty"`
}

// MessagesReceivedBody acknowledges delivered message ids, letting the
// mediator drop them from the queue (spec §4.H).
type MessagesReceivedBody struct {
	MessageIDList []string `json:"message_id_list"`
}

// LiveDeliveryChangeBody toggles whether this recipient's subsequent
// messages stream live over the connection instead of queueing.
type LiveDeliveryChangeBody struct {
	LiveDelivery bool `json:"live_delivery"`
}

// PickupHandler implements the status/delivery/ack/live-toggle exchange
// for one mediator instance.
type PickupHandler struct {
	Store    MessageStore
	Stream   *StreamTask
	Accounts AccountStore
}

// ErrDeliverySuspended marks a delivery-request for an account whose
// QueueSoftLimit is QueueDisabled: enqueues are still admitted, but
// pulling them out via delivery-request is refused until an administrator
// raises the limit (spec §4.H Testable Property 10).
type ErrDeliverySuspended struct {
	Recipient string
}

func (e *ErrDeliverySuspended) Error() string {
	return fmt.Sprintf("delivery suspended for %s", e.Recipient)
}

// HandleStatusRequest answers with the requester's current queue depth,
// byte total, oldest/newest received times, longest wait, and live
// delivery state, per spec §4.H. req.RecipientDID, when set, must match
// recipient (the caller's own session DID) or the request is refused.
func (h *PickupHandler) HandleStatusRequest(recipient string, req StatusRequestBody) (Plaintext, error) {
	if req.RecipientDID != "" && req.RecipientDID != recipient {
		return Plaintext{}, &ErrRecipientMismatch{Caller: recipient, RecipientDID: req.RecipientDID}
	}

	count, totalBytes, oldest, newest := h.Store.Status(recipient)
	resp := StatusBody{
		RecipientDID: recipient,
		MessageCount: count,
		TotalBytes:   totalBytes,
	}
	if oldest != nil {
		ts := oldest.Unix()
		resp.OldestReceivedTime = &ts
		resp.LongestWaitedSeconds = int64(time.Since(*oldest).Seconds())
	}
	if newest != nil {
		ts := newest.Unix()
		resp.NewestReceivedTime = &ts
	}
	if h.Stream != nil {
		resp.LiveDelivery = h.Stream.IsLive(recipient)
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return Plaintext{}, err
	}
	return Plaintext{Type: TypeStatus, Body: body}, nil
}

// HandleDeliveryRequest pops up to req.Limit queued messages (without
// removing them — removal happens only on an explicit
// messages-received ack, per spec §4.H) and wraps them as attachments on
// a single "delivery" message. req.RecipientDID, when set, must match
// recipient (the caller's own session DID) or the request is refused.
func (h *PickupHandler) HandleDeliveryRequest(recipient string, req DeliveryRequestBody) (Plaintext, error) {
	if req.RecipientDID != "" && req.RecipientDID != recipient {
		return Plaintext{}, &ErrRecipientMismatch{Caller: recipient, RecipientDID: req.RecipientDID}
	}
	if h.Accounts != nil {
		if account, ok := h.Accounts.Get(recipient); ok && account.QueueSoftLimit == QueueDisabled {
			return Plaintext{}, &ErrDeliverySuspended{Recipient: recipient}
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	msgs := h.Store.List(recipient, "", limit)
	atts := make([]didcomm.Attachment, 0, len(msgs))
	for _, m := range msgs {
		atts = append(atts, didcomm.Attachment{ID: m.ID, Data: didcomm.AttachmentData{JSON: m.Body}})
	}
	body, err := json.Marshal(struct {
		RecipientKey string `json:"recipient_key,omitempty"`
	}{})
	if err != nil {
		return Plaintext{}, err
	}
	return Plaintext{Type: TypeDelivery, Body: body, Attachments: atts}, nil
}

// HandleMessagesReceived removes the acknowledged ids from recipient's
// queue and reports the remaining depth, per spec §4.H.
func (h *PickupHandler) HandleMessagesReceived(recipient string, req MessagesReceivedBody) (Plaintext, error) {
	h.Store.Remove(recipient, req.MessageIDList)
	return h.HandleStatusRequest(recipient, StatusRequestBody{})
}

// HandleLiveDeliveryChange flips recipient's live-streaming subscription
// and answers with a Status whose live_delivery is the requested value.
// It fills in the response body before notifying the streaming task, so a
// concurrent delivery can never be observed with a stale on/off value in
// the reply regardless of goroutine scheduling (spec §9 open question:
// "live-delivery reply race").
func (h *PickupHandler) HandleLiveDeliveryChange(recipient string, req LiveDeliveryChangeBody) (Plaintext, error) {
	status, err := h.HandleStatusRequest(recipient, StatusRequestBody{})
	if err != nil {
		return Plaintext{}, err
	}
	var resp StatusBody
	if err := json.Unmarshal(status.Body, &resp); err != nil {
		return Plaintext{}, err
	}
	resp.LiveDelivery = req.LiveDelivery
	body, err := json.Marshal(resp)
	if err != nil {
		return Plaintext{}, err
	}
	if h.Stream != nil {
		h.Stream.SetLive(recipient, req.LiveDelivery)
	}
	return Plaintext{Type: TypeStatus, Body: body}, nil
}

// Plaintext aliases the envelope engine's Plaintext type so this package
// can speak DIDComm messages without importing didcomm everywhere.
type Plaintext = didcomm.Plaintext

// ParseDeliveryRequest decodes a delivery-request's body, returning a
// friendly error if it is missing required fields.
func ParseDeliveryRequest(body json.RawMessage) (DeliveryRequestBody, error) {
	var req DeliveryRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		return DeliveryRequestBody{}, fmt.Errorf("delivery-request body: %w", err)
	}
	return req, nil
}

// expireQueue drops messages whose ExpiresAt has passed, called
// periodically by the mediator's background sweep (spec §6 "message-expiry
// horizon").
func expireQueue(store MessageStore, recipient string, now time.Time) {
	msgs := store.List(recipient, "", 0)
	var expired []string
	for _, m := range msgs {
		if m.ExpiresAt != nil && now.After(*m.ExpiresAt) {
			expired = append(expired, m.ID)
		}
	}
	store.Remove(recipient, expired)
}

// ExpireMessages runs expireQueue across every provisioned account, the
// sweep cmd/mediator's serve command ticks on a timer.
func ExpireMessages(store MessageStore, accounts AccountStore, now time.Time) {
	for _, a := range accounts.List() {
		expireQueue(store, a.DID, now)
	}
}
