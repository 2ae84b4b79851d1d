package memory

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmem/internal/metrics"
	"github.com/BaSui01/agentmem/internal/telemetry"
	"github.com/BaSui01/agentmem/persistence"
	"github.com/BaSui01/agentmem/types"
)

// Record key namespaces inside the remote table.
const (
	conversationPrefix = "CONV#"
	itemPrefix         = "ITEM#"
	tagPrefix          = "TAG#"
)

func conversationKey(id string) string { return conversationPrefix + id }
func itemKey(key string) string        { return itemPrefix + key }
func tagKey(tag, key string) string    { return tagPrefix + tag + "#" + key }
func tagScanPrefix(tag string) string  { return tagPrefix + tag + "#" }

const lockStripes = 64

// DurableStore persists conversations and items as JSON blobs in a
// persistence.Table. Backend failures surface as retryable UNAVAILABLE
// errors; the store never retries on its own.
type DurableStore struct {
	table     persistence.Table
	tableName string
	region    string
	pageSize  int
	now       func() time.Time

	// serializes read-modify-write cycles on one key within this process
	locks [lockStripes]sync.Mutex

	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewDurableStore opens the configured table backend.
func NewDurableStore(ctx context.Context, config DurableConfig, logger *zap.Logger, collector *metrics.Collector) (*DurableStore, error) {
	table, err := persistence.NewTable(ctx, config.Table, logger)
	if err != nil {
		return nil, types.UnavailableError("open durable table", err)
	}
	return NewDurableStoreWithTable(table, config, logger, collector), nil
}

// NewDurableStoreWithTable builds a store over an existing table. The store
// takes ownership of table and closes it on Close.
func NewDurableStoreWithTable(table persistence.Table, config DurableConfig, logger *zap.Logger, collector *metrics.Collector) *DurableStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := config.ScanPageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	tableName := config.Table.TableName
	if tableName == "" {
		tableName = persistence.DefaultTableConfig().TableName
	}
	return &DurableStore{
		table:     table,
		tableName: tableName,
		region:    config.Table.Region,
		pageSize:  pageSize,
		now:       now,
		logger: logger.With(
			zap.String("component", "memory_durable"),
			zap.String("table", tableName),
		),
		metrics: collector,
	}
}

// =============================================================================
// tracing & error helpers
// =============================================================================

func (s *DurableStore) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.collection.name", s.tableName),
		attribute.String("cloud.region", s.region),
	)
	return telemetry.Tracer().Start(ctx, "memory.durable."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// done closes the span and records the operation metric; use with defer.
func (s *DurableStore) done(span trace.Span, op string, start time.Time, err *error) {
	endSpan(span, *err)
	s.metrics.RecordOperation(storeDurable, op, *err, time.Since(start))
}

func (s *DurableStore) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

func corrupt(kind, key string, cause error) error {
	return types.NewError(types.ErrInternalError, "corrupt "+kind+" record").
		WithResource(key).
		WithCause(cause)
}

// =============================================================================
// raw record access
// =============================================================================

func (s *DurableStore) loadConversation(ctx context.Context, id string) (*types.Conversation, error) {
	data, err := s.table.Get(ctx, conversationKey(id))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.UnavailableError("durable get conversation", err)
	}
	var conv types.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, corrupt("conversation", id, err)
	}
	if conv.Messages == nil {
		conv.Messages = []types.Message{}
	}
	return &conv, nil
}

func (s *DurableStore) saveConversation(ctx context.Context, conv *types.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return types.NewError(types.ErrInvalidInput, "conversation is not serializable").WithCause(err)
	}
	if err := s.table.Put(ctx, conversationKey(conv.ID), data); err != nil {
		return types.UnavailableError("durable put conversation", err)
	}
	return nil
}

func (s *DurableStore) loadItem(ctx context.Context, key string) (*types.Item, error) {
	data, err := s.table.Get(ctx, itemKey(key))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.UnavailableError("durable get item", err)
	}
	var item types.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, corrupt("item", key, err)
	}
	return &item, nil
}

// purgeItem removes an item blob and its tag pointers. Failures are
// logged; the next read that finds the item expired retries.
func (s *DurableStore) purgeItem(ctx context.Context, item *types.Item) {
	deletes := make([]string, 0, len(item.Tags)+1)
	deletes = append(deletes, itemKey(item.Key))
	for _, tag := range item.Tags {
		deletes = append(deletes, tagKey(tag, item.Key))
	}
	if err := s.table.BatchWrite(ctx, nil, deletes); err != nil {
		s.logger.Warn("failed to purge expired item",
			zap.String("key", item.Key),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordItemsExpired(storeDurable, 1)
}

// =============================================================================
// conversations
// =============================================================================

// CreateConversation writes an empty conversation blob.
func (s *DurableStore) CreateConversation(ctx context.Context, metadata map[string]any) (_ *types.Conversation, err error) {
	ctx, span := s.startSpan(ctx, OpCreateConversation)
	defer s.done(span, OpCreateConversation, time.Now(), &err)

	now := s.now()
	conv := &types.Conversation{
		ID:        uuid.NewString(),
		Messages:  []types.Message{},
		Metadata:  cloneMetadata(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(attribute.String("memory.conversation_id", conv.ID))

	if err := s.saveConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

// GetConversation returns nil, nil when the conversation does not exist.
func (s *DurableStore) GetConversation(ctx context.Context, id string) (_ *types.Conversation, err error) {
	ctx, span := s.startSpan(ctx, OpGetConversation, attribute.String("memory.conversation_id", id))
	defer s.done(span, OpGetConversation, time.Now(), &err)

	return s.loadConversation(ctx, id)
}

// AddMessage appends one message with a read-modify-write of the blob.
func (s *DurableStore) AddMessage(ctx context.Context, id string, in types.MessageInput) (_ *types.Message, err error) {
	ctx, span := s.startSpan(ctx, OpAddMessage, attribute.String("memory.conversation_id", id))
	defer s.done(span, OpAddMessage, time.Now(), &err)

	if err := validateMessageInput(in); err != nil {
		return nil, err
	}

	mu := s.lockFor(conversationKey(id))
	mu.Lock()
	defer mu.Unlock()

	conv, err := s.loadConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
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
	conv.Messages = append(conv.Messages, msg)
	if now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}
	if err := s.saveConversation(ctx, conv); err != nil {
		return nil, err
	}
	out := msg.Clone()
	return &out, nil
}

// GetMessages filters the stored messages; NOT_FOUND for unknown ids.
func (s *DurableStore) GetMessages(ctx context.Context, id string, q types.MessageQuery) (_ []types.Message, err error) {
	ctx, span := s.startSpan(ctx, OpGetMessages, attribute.String("memory.conversation_id", id))
	defer s.done(span, OpGetMessages, time.Now(), &err)

	conv, err := s.loadConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, types.NotFoundError("conversation", id)
	}
	return q.Apply(conv.Messages), nil
}

// DeleteConversation removes the conversation blob.
func (s *DurableStore) DeleteConversation(ctx context.Context, id string) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, OpDeleteConversation, attribute.String("memory.conversation_id", id))
	defer s.done(span, OpDeleteConversation, time.Now(), &err)

	deleted, err := s.table.Delete(ctx, conversationKey(id))
	if err != nil {
		return false, types.UnavailableError("durable delete conversation", err)
	}
	return deleted, nil
}

// ImportConversation writes conv wholesale, keeping its ids and timestamps.
func (s *DurableStore) ImportConversation(ctx context.Context, conv *types.Conversation) (err error) {
	if conv == nil || conv.ID == "" {
		return errInvalid("conversation id is required")
	}
	ctx, span := s.startSpan(ctx, "import_conversation",
		attribute.String("memory.conversation_id", conv.ID),
		attribute.Int("memory.messages", len(conv.Messages)),
	)
	defer s.done(span, "import_conversation", time.Now(), &err)

	mu := s.lockFor(conversationKey(conv.ID))
	mu.Lock()
	defer mu.Unlock()

	return s.saveConversation(ctx, conv.Clone())
}

// AppendMessages appends already-identified messages in order.
func (s *DurableStore) AppendMessages(ctx context.Context, id string, msgs []types.Message) (err error) {
	ctx, span := s.startSpan(ctx, "append_messages",
		attribute.String("memory.conversation_id", id),
		attribute.Int("memory.messages", len(msgs)),
	)
	defer s.done(span, "append_messages", time.Now(), &err)

	if len(msgs) == 0 {
		return nil
	}

	mu := s.lockFor(conversationKey(id))
	mu.Lock()
	defer mu.Unlock()

	conv, err := s.loadConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		return types.NotFoundError("conversation", id)
	}
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, m.Clone())
	}
	if now := s.now(); now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}
	return s.saveConversation(ctx, conv)
}

// ListConversations pages through conversation blobs. limit <= 0 lists
// everything.
func (s *DurableStore) ListConversations(ctx context.Context, limit int) (_ []types.Conversation, err error) {
	ctx, span := s.startSpan(ctx, "list_conversations", attribute.Int("memory.limit", limit))
	defer s.done(span, "list_conversations", time.Now(), &err)

	out := make([]types.Conversation, 0)
	cursor := ""
	for {
		records, next, err := s.table.Scan(ctx, conversationPrefix, cursor, s.pageSize)
		if err != nil {
			return nil, types.UnavailableError("durable scan conversations", err)
		}
		for _, r := range records {
			var conv types.Conversation
			if err := json.Unmarshal(r.Value, &conv); err != nil {
				s.logger.Warn("skipping corrupt conversation record", zap.String("key", r.Key), zap.Error(err))
				continue
			}
			out = append(out, conv)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// =============================================================================
// items
// =============================================================================

// StoreItem writes the item, its tag pointers and the removal of stale
// pointers in a single batch.
func (s *DurableStore) StoreItem(ctx context.Context, key string, value any, tags []string, ttl time.Duration) (_ *types.Item, err error) {
	ctx, span := s.startSpan(ctx, OpStoreItem, attribute.String("memory.item_key", key))
	defer s.done(span, OpStoreItem, time.Now(), &err)

	if key == "" {
		return nil, errInvalid("item key is required")
	}

	mu := s.lockFor(itemKey(key))
	mu.Lock()
	defer mu.Unlock()

	old, err := s.loadItem(ctx, key)
	if err != nil && !types.IsUnavailable(err) {
		// a corrupt previous version is simply overwritten
		s.logger.Warn("overwriting unreadable item", zap.String("key", key), zap.Error(err))
		old = nil
	} else if err != nil {
		return nil, err
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
	if old != nil && !old.Expired(now) {
		item.CreatedAt = old.CreatedAt
	}

	data, err := json.Marshal(item)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "item value is not serializable").WithCause(err)
	}

	puts := make([]persistence.Record, 0, len(item.Tags)+1)
	puts = append(puts, persistence.Record{Key: itemKey(key), Value: data})
	newTags := make(map[string]struct{}, len(item.Tags))
	for _, tag := range item.Tags {
		newTags[tag] = struct{}{}
		puts = append(puts, persistence.Record{Key: tagKey(tag, key), Value: []byte(key)})
	}

	var deletes []string
	if old != nil {
		for _, tag := range old.Tags {
			if _, ok := newTags[tag]; !ok {
				deletes = append(deletes, tagKey(tag, key))
			}
		}
	}

	if err := s.table.BatchWrite(ctx, puts, deletes); err != nil {
		return nil, types.UnavailableError("durable store item", err)
	}
	return item.Clone(), nil
}

// GetItem returns nil for missing or expired items; expired ones are purged.
func (s *DurableStore) GetItem(ctx context.Context, key string) (_ *types.Item, err error) {
	ctx, span := s.startSpan(ctx, OpGetItem, attribute.String("memory.item_key", key))
	defer s.done(span, OpGetItem, time.Now(), &err)

	item, err := s.loadItem(ctx, key)
	if err != nil || item == nil {
		return nil, err
	}
	if item.Expired(s.now()) {
		s.purgeItem(ctx, item)
		return nil, nil
	}
	return item, nil
}

// SearchByTags walks the pointers of the first requested tag and keeps
// items that still carry every tag and have not expired.
func (s *DurableStore) SearchByTags(ctx context.Context, tags []string, limit int) (_ []types.Item, err error) {
	ctx, span := s.startSpan(ctx, OpSearchByTags, attribute.StringSlice("memory.tags", tags))
	defer s.done(span, OpSearchByTags, time.Now(), &err)

	tags = types.NormalizeTags(tags)
	if len(tags) == 0 {
		return []types.Item{}, nil
	}

	now := s.now()
	seen := make(map[string]struct{})
	out := make([]types.Item, 0)
	cursor := ""
	for {
		records, next, err := s.table.Scan(ctx, tagScanPrefix(tags[0]), cursor, s.pageSize)
		if err != nil {
			return nil, types.UnavailableError("durable scan tags", err)
		}
		for _, r := range records {
			key := string(r.Value)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}

			item, err := s.loadItem(ctx, key)
			if types.IsUnavailable(err) {
				return nil, err
			}
			if err != nil {
				s.logger.Warn("skipping unreadable item", zap.String("key", key), zap.Error(err))
				continue
			}
			if item == nil {
				// pointer outlived its item
				continue
			}
			if item.Expired(now) {
				s.purgeItem(ctx, item)
				continue
			}
			if !item.HasAllTags(tags) {
				continue
			}
			out = append(out, *item)
			if limit > 0 && len(out) >= limit {
				sortItems(out)
				return out, nil
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	sortItems(out)
	return out, nil
}

// DeleteItem removes the item and its tag pointers.
func (s *DurableStore) DeleteItem(ctx context.Context, key string) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, OpDeleteItem, attribute.String("memory.item_key", key))
	defer s.done(span, OpDeleteItem, time.Now(), &err)

	mu := s.lockFor(itemKey(key))
	mu.Lock()
	defer mu.Unlock()

	old, err := s.loadItem(ctx, key)
	if types.IsUnavailable(err) {
		return false, err
	}
	// an unreadable blob still existed
	existed := old != nil || err != nil
	deletes := []string{itemKey(key)}
	if old != nil {
		for _, tag := range old.Tags {
			deletes = append(deletes, tagKey(tag, key))
		}
	}
	if err := s.table.BatchWrite(ctx, nil, deletes); err != nil {
		return false, types.UnavailableError("durable delete item", err)
	}
	return existed, nil
}

// Ping checks the backend.
func (s *DurableStore) Ping(ctx context.Context) error {
	if err := s.table.Ping(ctx); err != nil {
		return types.UnavailableError("durable ping", err)
	}
	return nil
}

// Close closes the underlying table.
func (s *DurableStore) Close() error {
	return s.table.Close()
}

func sortItems(items []types.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
}
