// =============================================================================
// 🧠 MockMemoryManager - 记忆管理器模拟实现
// =============================================================================
// 用于测试的 MemoryManager 模拟，支持错误注入与调用记录
//
// 使用方法:
//
//	mem := mocks.NewMockMemoryManager()
//	mem.WithError("AddMessage", errors.New("boom"))
//	conv, _ := mem.CreateConversation(ctx, nil)
//	calls := mem.Calls("CreateConversation")
// =============================================================================
package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentmem/types"
)

// =============================================================================
// 🎯 MockMemoryManager 结构
// =============================================================================

// MockMemoryManager 是 MemoryManager 的无界内存实现
type MockMemoryManager struct {
	mu sync.RWMutex

	conversations map[string]*types.Conversation
	items         map[string]*types.Item

	// 错误注入，按操作名
	errs map[string]error

	// 调用记录，按操作名
	calls map[string]int

	closed bool
}

// NewMockMemoryManager 创建新的 MockMemoryManager
func NewMockMemoryManager() *MockMemoryManager {
	return &MockMemoryManager{
		conversations: make(map[string]*types.Conversation),
		items:         make(map[string]*types.Item),
		errs:          make(map[string]error),
		calls:         make(map[string]int),
	}
}

// WithError 让指定操作返回 err
func (m *MockMemoryManager) WithError(op string, err error) *MockMemoryManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
	return m
}

// WithConversation 预置会话
func (m *MockMemoryManager) WithConversation(conv *types.Conversation) *MockMemoryManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ID] = conv.Clone()
	return m
}

// Calls 返回操作被调用的次数
func (m *MockMemoryManager) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// TotalCalls 返回所有操作的调用总数
func (m *MockMemoryManager) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// Closed 报告 Close 是否被调用过
func (m *MockMemoryManager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// record 记录调用并返回注入的错误，调用方需持有写锁
func (m *MockMemoryManager) record(op string) error {
	m.calls[op]++
	return m.errs[op]
}

// =============================================================================
// 📝 MemoryManager 接口实现
// =============================================================================

// CreateConversation 创建会话
func (m *MockMemoryManager) CreateConversation(ctx context.Context, metadata map[string]any) (*types.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateConversation"); err != nil {
		return nil, err
	}
	now := time.Now()
	conv := &types.Conversation{
		ID:        uuid.NewString(),
		Messages:  []types.Message{},
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	return conv.Clone(), nil
}

// GetConversation 获取会话，不存在时返回 nil
func (m *MockMemoryManager) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetConversation"); err != nil {
		return nil, err
	}
	return m.conversations[id].Clone(), nil
}

// AddMessage 追加消息
func (m *MockMemoryManager) AddMessage(ctx context.Context, id string, in types.MessageInput) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("AddMessage"); err != nil {
		return nil, err
	}
	conv, ok := m.conversations[id]
	if !ok {
		return nil, types.NotFoundError("conversation", id)
	}
	now := time.Now()
	msg := types.Message{
		ID:        uuid.NewString(),
		Role:      in.Role,
		Content:   in.Content,
		Timestamp: now.UnixMilli(),
		Metadata:  in.Metadata,
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now
	out := msg.Clone()
	return &out, nil
}

// GetMessages 按查询条件返回消息
func (m *MockMemoryManager) GetMessages(ctx context.Context, id string, q types.MessageQuery) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetMessages"); err != nil {
		return nil, err
	}
	conv, ok := m.conversations[id]
	if !ok {
		return nil, types.NotFoundError("conversation", id)
	}
	return q.Apply(conv.Messages), nil
}

// StoreItem 存储条目
func (m *MockMemoryManager) StoreItem(ctx context.Context, key string, value any, tags []string, ttl time.Duration) (*types.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("StoreItem"); err != nil {
		return nil, err
	}
	now := time.Now()
	item := &types.Item{
		Key:       key,
		Value:     value,
		Tags:      types.NormalizeTags(tags),
		TTL:       types.ExpiryFromTTL(now, ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if old, ok := m.items[key]; ok {
		item.CreatedAt = old.CreatedAt
	}
	m.items[key] = item
	return item.Clone(), nil
}

// GetItem 获取条目，不存在或已过期时返回 nil
func (m *MockMemoryManager) GetItem(ctx context.Context, key string) (*types.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetItem"); err != nil {
		return nil, err
	}
	item, ok := m.items[key]
	if !ok || item.Expired(time.Now()) {
		return nil, nil
	}
	return item.Clone(), nil
}

// SearchByTags 返回携带全部标签的条目
func (m *MockMemoryManager) SearchByTags(ctx context.Context, tags []string, limit int) ([]types.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SearchByTags"); err != nil {
		return nil, err
	}
	now := time.Now()
	out := []types.Item{}
	for _, item := range m.items {
		if item.Expired(now) || !item.HasAllTags(tags) {
			continue
		}
		out = append(out, *item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteItem 删除条目
func (m *MockMemoryManager) DeleteItem(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteItem"); err != nil {
		return false, err
	}
	_, ok := m.items[key]
	delete(m.items, key)
	return ok, nil
}

// DeleteConversation 删除会话
func (m *MockMemoryManager) DeleteConversation(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteConversation"); err != nil {
		return false, err
	}
	_, ok := m.conversations[id]
	delete(m.conversations, id)
	return ok, nil
}

// Close 关闭
func (m *MockMemoryManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.record("Close")
}
