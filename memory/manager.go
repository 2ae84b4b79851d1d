package memory

import (
	"context"
	"time"

	"github.com/BaSui01/agentmem/internal/metrics"
	"github.com/BaSui01/agentmem/types"
)

// MemoryManager is the single contract every store variant implements.
// Reads of absent records return nil without error; AddMessage and
// GetMessages fail with NOT_FOUND for unknown conversations.
type MemoryManager interface {
	CreateConversation(ctx context.Context, metadata map[string]any) (*types.Conversation, error)
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)
	AddMessage(ctx context.Context, id string, in types.MessageInput) (*types.Message, error)
	GetMessages(ctx context.Context, id string, q types.MessageQuery) ([]types.Message, error)

	StoreItem(ctx context.Context, key string, value any, tags []string, ttl time.Duration) (*types.Item, error)
	GetItem(ctx context.Context, key string) (*types.Item, error)
	SearchByTags(ctx context.Context, tags []string, limit int) ([]types.Item, error)
	DeleteItem(ctx context.Context, key string) (bool, error)
	DeleteConversation(ctx context.Context, id string) (bool, error)

	Close() error
}

// Syncer is implemented by stores that reconcile in the background.
type Syncer interface {
	// ForceSyncAll runs one reconciliation cycle and waits for it.
	ForceSyncAll(ctx context.Context) error
}

// SyncTarget is what the hybrid coordinator needs from its durable side.
// DurableStore implements it.
type SyncTarget interface {
	MemoryManager
	// ImportConversation writes conv with all of its messages as-is.
	ImportConversation(ctx context.Context, conv *types.Conversation) error
	// AppendMessages appends already-identified messages in order.
	AppendMessages(ctx context.Context, id string, msgs []types.Message) error
}

// Operation names shared by access policies, audit logs and metrics.
const (
	OpCreateConversation = "create_conversation"
	OpGetConversation    = "get_conversation"
	OpAddMessage         = "add_message"
	OpGetMessages        = "get_messages"
	OpStoreItem          = "store_item"
	OpGetItem            = "get_item"
	OpSearchByTags       = "search_by_tags"
	OpDeleteItem         = "delete_item"
	OpDeleteConversation = "delete_conversation"
)

// Store labels used in metrics.
const (
	storeVolatile = "volatile"
	storeDurable  = "durable"
	storeHybrid   = "hybrid"
	storeSecure   = "secure"
)

func errClosed(store string) error {
	return types.NewError(types.ErrUnavailable, store+" store is closed")
}

func errInvalid(msg string) error {
	return types.NewError(types.ErrInvalidInput, msg)
}

func validateMessageInput(in types.MessageInput) error {
	if !in.Role.Valid() {
		return errInvalid("invalid message role: " + string(in.Role))
	}
	return nil
}

// observe records an operation on the collector; use with defer.
func observe(c *metrics.Collector, store, op string, start time.Time, err *error) {
	c.RecordOperation(store, op, *err, time.Since(start))
}

var (
	_ MemoryManager = (*VolatileStore)(nil)
	_ MemoryManager = (*DurableStore)(nil)
	_ MemoryManager = (*HybridManager)(nil)
	_ MemoryManager = (*SecureManager)(nil)

	_ SyncTarget = (*DurableStore)(nil)

	_ Syncer = (*HybridManager)(nil)
	_ Syncer = (*SecureManager)(nil)
)
