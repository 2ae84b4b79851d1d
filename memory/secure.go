package memory

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmem/internal/ctxkeys"
	"github.com/BaSui01/agentmem/internal/metrics"
	"github.com/BaSui01/agentmem/types"
)

// SecureOption customizes a SecureManager.
type SecureOption func(*SecureManager)

// WithAccessPolicy replaces the policy derived from configuration.
func WithAccessPolicy(p AccessPolicy) SecureOption {
	return func(s *SecureManager) {
		if p != nil {
			s.policy = p
		}
	}
}

// SecureManager 为任意 MemoryManager 增加访问控制、加密与脱敏，
// 对调用方保持同一契约。
//
// 条目值总是先 JSON 编码再加密；消息内容只在命中敏感规则时加密。
// 读取时先解密再脱敏。解密失败只记录日志与指标，原样返回存储的记录。
type SecureManager struct {
	inner    MemoryManager
	policy   AccessPolicy
	cipher   *Cipher
	redactor *Redactor
	redact   bool
	audit    bool

	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewSecureManager wraps inner. It fails when the encryption key is too
// short or a sensitive pattern does not compile.
func NewSecureManager(inner MemoryManager, config SecureConfig, logger *zap.Logger, collector *metrics.Collector, opts ...SecureOption) (*SecureManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := NewCipher(config.EncryptionKey)
	if err != nil {
		return nil, err
	}
	redactor, err := NewRedactor(config.SensitivePatterns, config.RedactionMarker)
	if err != nil {
		return nil, errInvalid(err.Error())
	}

	s := &SecureManager{
		inner:    inner,
		cipher:   c,
		redactor: redactor,
		redact:   config.RedactionEnabled,
		audit:    config.AuditLogging,
		logger:   logger.With(zap.String("component", "memory_secure")),
		metrics:  collector,
	}
	if config.AccessControl.Enabled {
		s.policy = NewRolePolicy(config.AccessControl.Roles, config.AccessControl.Users)
	} else {
		s.policy = NewAllowAllPolicy(logger)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Inner returns the wrapped manager.
func (s *SecureManager) Inner() MemoryManager {
	return s.inner
}

func (s *SecureManager) authorize(ctx context.Context, op, resource string) error {
	if s.policy.Allow(ctx, op, resource) {
		return nil
	}
	s.metrics.RecordAccessDenied(op)
	s.logger.Warn("access denied",
		zap.String("operation", op),
		zap.String("resource", resource),
		zap.String("user_id", userID(ctx)))
	return types.AccessDeniedError(op, resource)
}

// finish records the metric and, when enabled, the audit line.
func (s *SecureManager) finish(ctx context.Context, op, resource string, start time.Time, err *error) {
	observe(s.metrics, storeSecure, op, start, err)
	if !s.audit {
		return
	}
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("resource", resource),
		zap.String("user_id", userID(ctx)),
		zap.Bool("success", *err == nil),
	}
	if reqID, ok := ctxkeys.RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", reqID))
	}
	if *err != nil {
		fields = append(fields, zap.String("error_code", string(types.GetErrorCode(*err))))
	}
	s.logger.Info("memory audit", fields...)
}

func userID(ctx context.Context) string {
	if p, ok := ctxkeys.PrincipalFrom(ctx); ok {
		return p.UserID
	}
	return ""
}

func (s *SecureManager) decryptFailed(kind, id string, err error) {
	s.metrics.RecordDecryptionFailure()
	s.logger.Error("decryption failed, returning stored record",
		zap.String("kind", kind),
		zap.String("id", id),
		zap.Error(err))
}

// sealContent encrypts message content only when it carries sensitive data
// or already looks like an envelope, so plain text is never misread as one.
func (s *SecureManager) sealContent(content string) (string, error) {
	if !s.redactor.Sensitive(content) && !IsSealed(content) {
		return content, nil
	}
	sealed, err := s.cipher.Seal(content)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "encrypt message").WithCause(err)
	}
	return sealed, nil
}

func (s *SecureManager) decodeMessage(m types.Message) types.Message {
	content := m.Content
	if IsSealed(content) {
		plain, err := s.cipher.Open(content)
		if err != nil {
			s.decryptFailed("message", m.ID, err)
			return m
		}
		content = plain
	}
	if s.redact {
		content = s.redactor.Redact(content)
	}
	m.Content = content
	return m
}

func (s *SecureManager) decodeMessages(msgs []types.Message) []types.Message {
	for i := range msgs {
		msgs[i] = s.decodeMessage(msgs[i])
	}
	return msgs
}

func (s *SecureManager) decodeConversation(conv *types.Conversation) *types.Conversation {
	if conv == nil {
		return nil
	}
	conv.Messages = s.decodeMessages(conv.Messages)
	return conv
}

func (s *SecureManager) decodeItem(item *types.Item) *types.Item {
	if item == nil {
		return nil
	}
	value := item.Value
	if sealed, ok := value.(string); ok && IsSealed(sealed) {
		plain, err := s.cipher.Open(sealed)
		if err != nil {
			s.decryptFailed("item", item.Key, err)
			return item
		}
		var decoded any
		if err := json.Unmarshal([]byte(plain), &decoded); err != nil {
			s.decryptFailed("item", item.Key, err)
			return item
		}
		value = decoded
	}
	if s.redact {
		value = s.redactor.RedactValue(value)
	}
	item.Value = value
	return item
}

// CreateConversation 创建会话，元数据不加密
func (s *SecureManager) CreateConversation(ctx context.Context, metadata map[string]any) (_ *types.Conversation, err error) {
	defer s.finish(ctx, OpCreateConversation, "", time.Now(), &err)

	if err := s.authorize(ctx, OpCreateConversation, ""); err != nil {
		return nil, err
	}
	conv, err := s.inner.CreateConversation(ctx, metadata)
	if err != nil {
		return nil, err
	}
	return s.decodeConversation(conv), nil
}

// GetConversation returns the conversation with message content decrypted
// and redacted.
func (s *SecureManager) GetConversation(ctx context.Context, id string) (_ *types.Conversation, err error) {
	defer s.finish(ctx, OpGetConversation, id, time.Now(), &err)

	if err := s.authorize(ctx, OpGetConversation, id); err != nil {
		return nil, err
	}
	conv, err := s.inner.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decodeConversation(conv), nil
}

// AddMessage 命中敏感规则的内容加密后写入
func (s *SecureManager) AddMessage(ctx context.Context, id string, in types.MessageInput) (_ *types.Message, err error) {
	defer s.finish(ctx, OpAddMessage, id, time.Now(), &err)

	if err := s.authorize(ctx, OpAddMessage, id); err != nil {
		return nil, err
	}
	in.Content, err = s.sealContent(in.Content)
	if err != nil {
		return nil, err
	}
	msg, err := s.inner.AddMessage(ctx, id, in)
	if err != nil {
		return nil, err
	}
	out := s.decodeMessage(*msg)
	return &out, nil
}

// GetMessages 解密并脱敏
func (s *SecureManager) GetMessages(ctx context.Context, id string, q types.MessageQuery) (_ []types.Message, err error) {
	defer s.finish(ctx, OpGetMessages, id, time.Now(), &err)

	if err := s.authorize(ctx, OpGetMessages, id); err != nil {
		return nil, err
	}
	msgs, err := s.inner.GetMessages(ctx, id, q)
	if err != nil {
		return nil, err
	}
	return s.decodeMessages(msgs), nil
}

// StoreItem encrypts the JSON encoding of value before delegating.
func (s *SecureManager) StoreItem(ctx context.Context, key string, value any, tags []string, ttl time.Duration) (_ *types.Item, err error) {
	defer s.finish(ctx, OpStoreItem, key, time.Now(), &err)

	if err := s.authorize(ctx, OpStoreItem, key); err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errInvalid("item value is not JSON encodable: " + err.Error())
	}
	sealed, err := s.cipher.Seal(string(data))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encrypt item").WithCause(err)
	}
	item, err := s.inner.StoreItem(ctx, key, sealed, tags, ttl)
	if err != nil {
		return nil, err
	}
	return s.decodeItem(item), nil
}

// GetItem 解密并脱敏
func (s *SecureManager) GetItem(ctx context.Context, key string) (_ *types.Item, err error) {
	defer s.finish(ctx, OpGetItem, key, time.Now(), &err)

	if err := s.authorize(ctx, OpGetItem, key); err != nil {
		return nil, err
	}
	item, err := s.inner.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.decodeItem(item), nil
}

// SearchByTags 解密并脱敏每个结果
func (s *SecureManager) SearchByTags(ctx context.Context, tags []string, limit int) (_ []types.Item, err error) {
	defer s.finish(ctx, OpSearchByTags, "", time.Now(), &err)

	if err := s.authorize(ctx, OpSearchByTags, ""); err != nil {
		return nil, err
	}
	items, err := s.inner.SearchByTags(ctx, tags, limit)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = *s.decodeItem(&items[i])
	}
	return items, nil
}

// DeleteItem delegates after the access check.
func (s *SecureManager) DeleteItem(ctx context.Context, key string) (_ bool, err error) {
	defer s.finish(ctx, OpDeleteItem, key, time.Now(), &err)

	if err := s.authorize(ctx, OpDeleteItem, key); err != nil {
		return false, err
	}
	return s.inner.DeleteItem(ctx, key)
}

// DeleteConversation delegates after the access check.
func (s *SecureManager) DeleteConversation(ctx context.Context, id string) (_ bool, err error) {
	defer s.finish(ctx, OpDeleteConversation, id, time.Now(), &err)

	if err := s.authorize(ctx, OpDeleteConversation, id); err != nil {
		return false, err
	}
	return s.inner.DeleteConversation(ctx, id)
}

// ForceSyncAll forwards to the wrapped manager when it syncs in the
// background; otherwise it does nothing.
func (s *SecureManager) ForceSyncAll(ctx context.Context) error {
	if syncer, ok := s.inner.(Syncer); ok {
		return syncer.ForceSyncAll(ctx)
	}
	return nil
}

// Close closes the wrapped manager.
func (s *SecureManager) Close() error {
	return s.inner.Close()
}
