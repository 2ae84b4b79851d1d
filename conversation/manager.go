package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmem/memory"
	"github.com/BaSui01/agentmem/types"
)

// Provider names understood by GetFormattedHistory.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// summaryWindow 摘要包含的最近消息条数
const summaryWindow = 5

// FormattedMessage is a message in a provider's role vocabulary.
type FormattedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// roleMaps 规范角色到各提供商角色的映射，未列出的角色保持原样
var roleMaps = map[string]map[types.Role]string{
	ProviderAnthropic: {
		types.RoleTool: string(types.RoleAssistant),
	},
	ProviderGemini: {
		types.RoleSystem:    "user",
		types.RoleAssistant: "model",
		types.RoleTool:      "model",
	},
}

// MapRole returns role in provider's vocabulary. Unknown providers, and
// openai, keep the canonical role.
func MapRole(provider string, role types.Role) string {
	if mapped, ok := roleMaps[strings.ToLower(provider)][role]; ok {
		return mapped
	}
	return string(role)
}

// Manager 会话便捷层，所有调用都委托给底层 MemoryManager
type Manager struct {
	store  memory.MemoryManager
	logger *zap.Logger
}

// NewManager wraps store.
func NewManager(store memory.MemoryManager, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		logger: logger.With(zap.String("component", "conversation")),
	}
}

// StartConversation creates a conversation and returns its id.
func (m *Manager) StartConversation(ctx context.Context, metadata map[string]any) (string, error) {
	conv, err := m.store.CreateConversation(ctx, metadata)
	if err != nil {
		return "", err
	}
	m.logger.Debug("conversation started", zap.String("conversation_id", conv.ID))
	return conv.ID, nil
}

func (m *Manager) add(ctx context.Context, id string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	return m.store.AddMessage(ctx, id, types.MessageInput{
		Role:     role,
		Content:  content,
		Metadata: metadata,
	})
}

// AddSystemMessage 追加 system 消息
func (m *Manager) AddSystemMessage(ctx context.Context, id, content string, metadata map[string]any) (*types.Message, error) {
	return m.add(ctx, id, types.RoleSystem, content, metadata)
}

// AddUserMessage 追加 user 消息
func (m *Manager) AddUserMessage(ctx context.Context, id, content string, metadata map[string]any) (*types.Message, error) {
	return m.add(ctx, id, types.RoleUser, content, metadata)
}

// AddAssistantMessage 追加 assistant 消息
func (m *Manager) AddAssistantMessage(ctx context.Context, id, content string, metadata map[string]any) (*types.Message, error) {
	return m.add(ctx, id, types.RoleAssistant, content, metadata)
}

// AddToolMessage 追加 tool 消息
func (m *Manager) AddToolMessage(ctx context.Context, id, content string, metadata map[string]any) (*types.Message, error) {
	return m.add(ctx, id, types.RoleTool, content, metadata)
}

// GetConversationHistory returns the messages matching q in append order.
func (m *Manager) GetConversationHistory(ctx context.Context, id string, q types.MessageQuery) ([]types.Message, error) {
	return m.store.GetMessages(ctx, id, q)
}

// GetFormattedHistory returns the full history with roles mapped onto
// provider's vocabulary.
func (m *Manager) GetFormattedHistory(ctx context.Context, id, provider string) ([]FormattedMessage, error) {
	msgs, err := m.store.GetMessages(ctx, id, types.MessageQuery{})
	if err != nil {
		return nil, err
	}
	out := make([]FormattedMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = FormattedMessage{
			Role:    MapRole(provider, msg.Role),
			Content: msg.Content,
		}
	}
	return out, nil
}

// SummarizeConversation joins the last five messages as "role: content"
// lines and truncates the result to maxLength runes followed by "...".
// It does not call a model. maxLength <= 0 disables truncation.
func (m *Manager) SummarizeConversation(ctx context.Context, id string, maxLength int) (string, error) {
	msgs, err := m.store.GetMessages(ctx, id, types.MessageQuery{Limit: summaryWindow})
	if err != nil {
		return "", err
	}

	lines := make([]string, len(msgs))
	for i, msg := range msgs {
		lines[i] = fmt.Sprintf("%s: %s", msg.Role, msg.Content)
	}
	summary := strings.Join(lines, "\n")

	if maxLength > 0 {
		if runes := []rune(summary); len(runes) > maxLength {
			summary = string(runes[:maxLength]) + "..."
		}
	}
	return summary, nil
}

// DeleteConversation 删除会话
func (m *Manager) DeleteConversation(ctx context.Context, id string) (bool, error) {
	deleted, err := m.store.DeleteConversation(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		m.logger.Debug("conversation deleted", zap.String("conversation_id", id))
	}
	return deleted, nil
}
