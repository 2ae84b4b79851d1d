package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmem/internal/metrics"
	"github.com/BaSui01/agentmem/types"
)

// EvictionKind tells what left the volatile store.
type EvictionKind string

const (
	// EvictedConversation: a whole conversation was dropped at capacity.
	EvictedConversation EvictionKind = "conversation"
	// EvictedMessages: the oldest messages of a conversation were trimmed.
	EvictedMessages EvictionKind = "message"
)

// Eviction describes state dropped by the volatile store. For
// EvictedMessages, Conversation holds only the trimmed messages.
type Eviction struct {
	Kind         EvictionKind
	Conversation *types.Conversation
}

// EvictionHandler is called outside the store lock after every eviction.
type EvictionHandler func(Eviction)

// VolatileStats 进程内存储的规模快照
type VolatileStats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Items         int `json:"items"`
}

type volatileConversation struct {
	conv *types.Conversation
	// seq breaks createdAt ties so eviction order is total
	seq uint64
}

// VolatileStore 有界的进程内会话与条目存储。
// 会话数达到上限时淘汰 createdAt 最早的会话，每个会话只保留最近的
// MaxMessages 条消息；条目不设上限，过期条目在读取时惰性清理。
type VolatileStore struct {
	mu            sync.RWMutex
	conversations map[string]*volatileConversation
	items         map[string]*types.Item
	seq           uint64
	closed        bool

	maxMessages      int
	maxConversations int
	now              func() time.Time
	onEvict          EvictionHandler

	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewVolatileStore 创建进程内存储，非正数的上限取默认值
func NewVolatileStore(config VolatileConfig, logger *zap.Logger, collector *metrics.Collector) *VolatileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultVolatileConfig()
	if config.MaxMessages <= 0 {
		config.MaxMessages = defaults.MaxMessages
	}
	if config.MaxConversations <= 0 {
		config.MaxConversations = defaults.MaxConversations
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &VolatileStore{
		conversations:    make(map[string]*volatileConversation),
		items:            make(map[string]*types.Item),
		maxMessages:      config.MaxMessages,
		maxConversations: config.MaxConversations,
		now:              now,
		logger:           logger.With(zap.String("component", "memory_volatile")),
		metrics:          collector,
	}
}

// SetEvictionHandler installs h; nil removes it.
func (s *VolatileStore) SetEvictionHandler(h EvictionHandler) {
	s.mu.Lock()
	s.onEvict = h
	s.mu.Unlock()
}

// CreateConversation 创建会话，达到上限时先淘汰最早创建的会话
func (s *VolatileStore) CreateConversation(ctx context.Context, metadata map[string]any) (_ *types.Conversation, err error) {
	defer observe(s.metrics, storeVolatile, OpCreateConversation, time.Now(), &err)
	defer s.publishStats()

	now := s.now()
	conv := &types.Conversation{
		ID:        uuid.NewString(),
		Messages:  []types.Message{},
		Metadata:  cloneMetadata(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errClosed(storeVolatile)
	}
	evicted := s.insertLocked(conv)
	out := conv.Clone()
	handler := s.onEvict
	s.mu.Unlock()

	s.notifyEvicted(handler, evicted)
	return out, nil
}

// insertLocked stores conv, evicting the oldest conversations first when
// the store is full. Returns the evicted conversations.
func (s *VolatileStore) insertLocked(conv *types.Conversation) []*types.Conversation {
	var evicted []*types.Conversation
	for len(s.conversations) >= s.maxConversations {
		victim := s.oldestLocked()
		if victim == "" {
			break
		}
		evicted = append(evicted, s.conversations[victim].conv)
		delete(s.conversations, victim)
	}
	s.seq++
	s.conversations[conv.ID] = &volatileConversation{conv: conv, seq: s.seq}
	return evicted
}

// oldestLocked scans every conversation once for the smallest createdAt.
func (s *VolatileStore) oldestLocked() string {
	var (
		victim string
		best   *volatileConversation
	)
	for id, vc := range s.conversations {
		if best == nil ||
			vc.conv.CreatedAt.Before(best.conv.CreatedAt) ||
			(vc.conv.CreatedAt.Equal(best.conv.CreatedAt) && vc.seq < best.seq) {
			victim, best = id, vc
		}
	}
	return victim
}

func (s *VolatileStore) notifyEvicted(handler EvictionHandler, evicted []*types.Conversation) {
	for _, conv := range evicted {
		s.logger.Debug("conversation evicted",
			zap.String("conversation_id", conv.ID),
			zap.Int("messages", len(conv.Messages)),
		)
		s.metrics.RecordEviction(string(EvictedConversation), 1)
		if handler != nil {
			handler(Eviction{Kind: EvictedConversation, Conversation: conv})
		}
	}
}

// GetConversation 获取会话副本，不存在时返回 nil
func (s *VolatileStore) GetConversation(ctx context.Context, id string) (_ *types.Conversation, err error) {
	defer observe(s.metrics, storeVolatile, OpGetConversation, time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed(storeVolatile)
	}
	vc, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return vc.conv.Clone(), nil
}

// AddMessage 追加消息，超出 MaxMessages 时裁剪最早的消息
func (s *VolatileStore) AddMessage(ctx context.Context, id string, in types.MessageInput) (_ *types.Message, err error) {
	defer observe(s.metrics, storeVolatile, OpAddMessage, time.Now(), &err)
	defer s.publishStats()

	if err := validateMessageInput(in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errClosed(storeVolatile)
	}
	vc, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return nil, types.NotFoundError("conversation", id)
	}

	now := s.now()
	msg := types.Message{
		ID:        uuid.NewString(),
		Role:      in.Role,
		Content:   in.Content,
		Timestamp: now.UnixMilli(),
		Metadata:  cloneMetadata(in.Metadata),
	}
	trimmed := s.appendLocked(vc.conv, now, msg)
	handler := s.onEvict
	s.mu.Unlock()

	s.notifyTrimmed(handler, id, trimmed)
	out := msg.Clone()
	return &out, nil
}

// appendLocked appends msgs, advances updatedAt and trims to the bound.
func (s *VolatileStore) appendLocked(conv *types.Conversation, now time.Time, msgs ...types.Message) []types.Message {
	conv.Messages = append(conv.Messages, msgs...)
	if now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}
	return s.trimLocked(conv)
}

func (s *VolatileStore) trimLocked(conv *types.Conversation) []types.Message {
	over := len(conv.Messages) - s.maxMessages
	if over <= 0 {
		return nil
	}
	trimmed := make([]types.Message, over)
	copy(trimmed, conv.Messages[:over])
	// copy the tail so the trimmed prefix can be collected
	kept := make([]types.Message, s.maxMessages)
	copy(kept, conv.Messages[over:])
	conv.Messages = kept
	return trimmed
}

func (s *VolatileStore) notifyTrimmed(handler EvictionHandler, id string, trimmed []types.Message) {
	if len(trimmed) == 0 {
		return
	}
	s.metrics.RecordEviction(string(EvictedMessages), len(trimmed))
	if handler != nil {
		handler(Eviction{
			Kind:         EvictedMessages,
			Conversation: &types.Conversation{ID: id, Messages: trimmed},
		})
	}
}

// GetMessages 按时间范围与条数过滤消息
func (s *VolatileStore) GetMessages(ctx context.Context, id string, q types.MessageQuery) (_ []types.Message, err error) {
	defer observe(s.metrics, storeVolatile, OpGetMessages, time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed(storeVolatile)
	}
	vc, ok := s.conversations[id]
	if !ok {
		return nil, types.NotFoundError("conversation", id)
	}
	return q.Apply(vc.conv.Messages), nil
}

// StoreItem 写入或覆盖条目；覆盖时保留 createdAt
func (s *VolatileStore) StoreItem(ctx context.Context, key string, value any, tags []string, ttl time.Duration) (_ *types.Item, err error) {
	defer observe(s.metrics, storeVolatile, OpStoreItem, time.Now(), &err)
	defer s.publishStats()

	if key == "" {
		return nil, errInvalid("item key is required")
	}

	now := s.now()
	item := &types.Item{
		Key:       key,
		Value:     value,
		Tags:      types.NormalizeTags(tags),
		TTL:       types.ExpiryFromTTL(now, ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed(storeVolatile)
	}
	if old, ok := s.items[key]; ok && !old.Expired(now) {
		item.CreatedAt = old.CreatedAt
	}
	s.items[key] = item
	return item.Clone(), nil
}

// GetItem 获取条目，不存在或已过期时返回 nil；过期条目在此删除
func (s *VolatileStore) GetItem(ctx context.Context, key string) (_ *types.Item, err error) {
	defer observe(s.metrics, storeVolatile, OpGetItem, time.Now(), &err)
	defer s.publishStats()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed(storeVolatile)
	}
	item, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	if item.Expired(s.now()) {
		delete(s.items, key)
		s.metrics.RecordItemsExpired(storeVolatile, 1)
		return nil, nil
	}
	return item.Clone(), nil
}

// SearchByTags 返回携带全部标签的未过期条目，按 key 排序
func (s *VolatileStore) SearchByTags(ctx context.Context, tags []string, limit int) (_ []types.Item, err error) {
	defer observe(s.metrics, storeVolatile, OpSearchByTags, time.Now(), &err)
	defer s.publishStats()

	tags = types.NormalizeTags(tags)
	if len(tags) == 0 {
		return []types.Item{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed(storeVolatile)
	}

	now := s.now()
	expired := 0
	out := make([]types.Item, 0)
	for key, item := range s.items {
		if item.Expired(now) {
			delete(s.items, key)
			expired++
			continue
		}
		if item.HasAllTags(tags) {
			out = append(out, *item.Clone())
		}
	}
	s.metrics.RecordItemsExpired(storeVolatile, expired)

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteItem 删除条目
func (s *VolatileStore) DeleteItem(ctx context.Context, key string) (_ bool, err error) {
	defer observe(s.metrics, storeVolatile, OpDeleteItem, time.Now(), &err)
	defer s.publishStats()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errClosed(storeVolatile)
	}
	_, ok := s.items[key]
	delete(s.items, key)
	return ok, nil
}

// DeleteConversation 删除会话
func (s *VolatileStore) DeleteConversation(ctx context.Context, id string) (_ bool, err error) {
	defer observe(s.metrics, storeVolatile, OpDeleteConversation, time.Now(), &err)
	defer s.publishStats()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errClosed(storeVolatile)
	}
	_, ok := s.conversations[id]
	delete(s.conversations, id)
	return ok, nil
}

// ImportConversation 载入外部会话（例如从持久层回填）。
// 已存在的同 id 会话保持不变，进程内的状态总是更新的一方。
func (s *VolatileStore) ImportConversation(ctx context.Context, conv *types.Conversation) error {
	defer s.publishStats()

	if conv == nil || conv.ID == "" {
		return errInvalid("conversation id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed(storeVolatile)
	}
	if _, ok := s.conversations[conv.ID]; ok {
		s.mu.Unlock()
		return nil
	}
	c := conv.Clone()
	// 回填的消息已在别处持久化，裁剪时不再通知
	s.trimLocked(c)
	evicted := s.insertLocked(c)
	handler := s.onEvict
	s.mu.Unlock()

	s.notifyEvicted(handler, evicted)
	return nil
}

// AppendMessages 追加已分配 id 的消息
func (s *VolatileStore) AppendMessages(ctx context.Context, id string, msgs []types.Message) error {
	defer s.publishStats()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed(storeVolatile)
	}
	vc, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return types.NotFoundError("conversation", id)
	}
	copied := make([]types.Message, len(msgs))
	for i, m := range msgs {
		copied[i] = m.Clone()
	}
	trimmed := s.appendLocked(vc.conv, s.now(), copied...)
	handler := s.onEvict
	s.mu.Unlock()

	s.notifyTrimmed(handler, id, trimmed)
	return nil
}

// publishStats 把当前规模写入 gauge，调用时不能持有锁
func (s *VolatileStore) publishStats() {
	if s.metrics == nil {
		return
	}
	st := s.Stats()
	s.metrics.SetVolatileEntries(st.Conversations, st.Messages, st.Items)
}

// Stats 返回当前规模
func (s *VolatileStore) Stats() VolatileStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := VolatileStats{
		Conversations: len(s.conversations),
		Items:         len(s.items),
	}
	for _, vc := range s.conversations {
		st.Messages += len(vc.conv.Messages)
	}
	return st
}

// Close 释放所有数据，之后的调用返回 UNAVAILABLE
func (s *VolatileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.conversations = make(map[string]*volatileConversation)
	s.items = make(map[string]*types.Item)
	s.logger.Debug("volatile store closed")
	return nil
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
