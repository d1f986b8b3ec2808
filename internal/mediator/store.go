package mediator

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QueueUnlimited and QueueDisabled are the two sentinel limit values spec
// §3/§4.H define: -1 means "no soft/hard cap", -2 means "enqueues are
// still admitted, but delivery-request is refused" (see Enqueue below and
// PickupHandler.HandleDeliveryRequest).
const (
	QueueUnlimited = -1
	QueueDisabled  = -2
)

// QueuedMessage is one message held for later pickup, per spec §4.H.
// ID is time-prefixed so a lexical sort of ids is also delivery order
// (spec §5 "ordering"), grounded on the same idea as the teacher's
// uuid.NewString() ids widened with a sortable prefix.
type QueuedMessage struct {
	ID          string
	Recipient   string
	Body        json.RawMessage
	ReceivedAt  time.Time
	ExpiresAt   *time.Time
}

// NewQueuedMessageID mints a time-prefixed, globally unique message id.
func NewQueuedMessageID(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString())
}

// ErrQueueFull is returned when a soft limit would be exceeded by
// enqueuing a message, per spec §4.H Testable Property 10.
type ErrQueueFull struct {
	Recipient string
	Limit     int
}

func (e *ErrQueueFull) Error() string {
	return fmt.Sprintf("queue full for %s (soft limit %d)", e.Recipient, e.Limit)
}

// MessageStore holds per-recipient FIFO queues of not-yet-delivered
// messages, per spec §4.H "Message store + pickup protocol".
type MessageStore interface {
	// Enqueue appends msg to recipient's queue. New enqueues are rejected
	// once the queue holds softLimit messages, except softLimit ==
	// QueueUnlimited (no cap) or QueueDisabled (the account still accepts
	// enqueues, only delivery is suspended — spec §4.H Testable Property
	// 10), neither of which ever rejects here.
	Enqueue(recipient string, msg QueuedMessage, softLimit int) error
	// Status reports queue depth, byte total, and the oldest/newest
	// ReceivedAt for status-request/status (spec §4.H).
	Status(recipient string) (count int, totalBytes int, oldest, newest *time.Time)
	// List returns up to limit messages in FIFO order, optionally only
	// those with id > after (pagination via the last-seen id).
	List(recipient string, after string, limit int) []QueuedMessage
	// Remove deletes the named message ids from recipient's queue, used
	// by messages-received acknowledgement and by self-manage-list
	// deletion (spec §4.H, §4.F ACLSelfManageList).
	Remove(recipient string, ids []string)
}

// MemoryMessageStore is an in-memory MessageStore. Grounded on the
// teacher's map+sync.RWMutex idiom (dashboard.go's WSHub), generalized
// from "set of live connections" to "per-recipient FIFO queue".
type MemoryMessageStore struct {
	mu     sync.RWMutex
	queues map[string][]QueuedMessage
}

// NewMemoryMessageStore builds an empty MemoryMessageStore.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{queues: make(map[string][]QueuedMessage)}
}

func (s *MemoryMessageStore) Enqueue(recipient string, msg QueuedMessage, softLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[recipient]
	if softLimit >= 0 && len(q) >= softLimit {
		return &ErrQueueFull{Recipient: recipient, Limit: softLimit}
	}
	q = append(q, msg)
	sort.Slice(q, func(i, j int) bool { return q[i].ID < q[j].ID })
	s.queues[recipient] = q
	return nil
}

func (s *MemoryMessageStore) Status(recipient string) (int, int, *time.Time, *time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := s.queues[recipient]
	if len(q) == 0 {
		return 0, 0, nil, nil
	}
	totalBytes := 0
	for _, m := range q {
		totalBytes += len(m.Body)
	}
	oldest := q[0].ReceivedAt
	newest := q[len(q)-1].ReceivedAt
	return len(q), totalBytes, &oldest, &newest
}

func (s *MemoryMessageStore) List(recipient string, after string, limit int) []QueuedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := s.queues[recipient]
	out := make([]QueuedMessage, 0, limit)
	for _, m := range q {
		if after != "" && m.ID <= after {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *MemoryMessageStore) Remove(recipient string, ids []string) {
	if len(ids) == 0 {
		return
	}
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[recipient]
	kept := q[:0:0]
	for _, m := range q {
		if !remove[m.ID] {
			kept = append(kept, m)
		}
	}
	s.queues[recipient] = kept
}
