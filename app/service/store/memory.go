package store

import (
	"context"
	"hirewire/app/service/conversation"
	"sync"
)

var _ conversation.Store = (*Memory)(nil)

// Memory keeps encoded snapshots, so callers never share state with the store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	version int64
	data    []byte
}

func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
	}
}

func (m *Memory) Load(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	item, ok := m.items[id]
	m.mu.RUnlock()

	if !ok {
		return nil, notFound(id)
	}

	return decode(id, item.data)
}

func (m *Memory) Save(ctx context.Context, conv *conversation.Conversation, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.items[conv.ID].version
	if current != expectedVersion {
		return conflict(conv.ID, expectedVersion, current)
	}

	next := *conv
	next.Version = expectedVersion + 1

	data, err := encode(&next)
	if err != nil {
		return err
	}

	m.items[conv.ID] = memoryItem{version: next.Version, data: data}
	conv.Version = next.Version

	return nil
}
