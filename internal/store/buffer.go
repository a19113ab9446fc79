package store

import (
	"context"
	"sync"

	"github.com/wolfman30/whatsapp-leads/internal/messaging"
)

// MessageReader is the read surface shared by Repository and the recent-message
// buffers, so callers can read from either without knowing which answered.
type MessageReader interface {
	RecentMessages(ctx context.Context, phoneKey string, limit int) ([]messaging.Message, error)
	Message(ctx context.Context, id string) (messaging.Message, error)
}

// RecentStore is a bounded cache of the newest messages. Repository mirrors
// writes into it and reads from it when the backend is unavailable.
type RecentStore interface {
	MessageReader
	Add(ctx context.Context, msg messaging.Message) error
	UpdateStatus(ctx context.Context, change StatusChange) error
}

// RecentBuffer is an in-memory ring of the newest messages. When full, adding
// a message evicts the oldest one.
type RecentBuffer struct {
	mu    sync.RWMutex
	slots []messaging.Message
	next  int
	count int
	index map[string]int
}

// NewRecentBuffer returns a ring holding at most capacity messages.
func NewRecentBuffer(capacity int) *RecentBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RecentBuffer{
		slots: make([]messaging.Message, capacity),
		index: make(map[string]int, capacity),
	}
}

func (b *RecentBuffer) Capacity() int {
	return len(b.slots)
}

func (b *RecentBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Add stores msg unless a message with the same ID is already buffered.
func (b *RecentBuffer) Add(_ context.Context, msg messaging.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[msg.ID]; ok {
		return nil
	}
	if b.count == len(b.slots) {
		delete(b.index, b.slots[b.next].ID)
	} else {
		b.count++
	}
	b.slots[b.next] = msg
	b.index[msg.ID] = b.next
	b.next = (b.next + 1) % len(b.slots)
	return nil
}

func (b *RecentBuffer) UpdateStatus(_ context.Context, change StatusChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot, ok := b.index[change.MessageID]
	if !ok {
		return messaging.ErrMessageNotFound
	}
	applyStatusChange(&b.slots[slot], change)
	return nil
}

func (b *RecentBuffer) Message(_ context.Context, id string) (messaging.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	slot, ok := b.index[id]
	if !ok {
		return messaging.Message{}, messaging.ErrMessageNotFound
	}
	return b.slots[slot], nil
}

// RecentMessages returns buffered messages newest first. An empty phoneKey
// matches every phone.
func (b *RecentBuffer) RecentMessages(_ context.Context, phoneKey string, limit int) ([]messaging.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]messaging.Message, 0, b.count)
	for i := 1; i <= b.count; i++ {
		msg := b.slots[(b.next-i+len(b.slots))%len(b.slots)]
		if phoneKey != "" && msg.PhoneKey != phoneKey {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func applyStatusChange(msg *messaging.Message, change StatusChange) bool {
	if !change.Status.Supersedes(msg.Status) {
		return false
	}
	msg.Status = change.Status
	if change.ErrorCode != "" {
		msg.ErrorCode = change.ErrorCode
	}
	if change.ErrorMessage != "" {
		msg.ErrorMessage = change.ErrorMessage
	}
	return true
}
