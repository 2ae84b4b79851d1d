package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmem/persistence"
	"github.com/BaSui01/agentmem/testutil"
	"github.com/BaSui01/agentmem/types"
)

func TestNewManager_Variants(t *testing.T) {
	tests := []struct {
		name   string
		typ    Type
		secure bool
		check  func(t *testing.T, m MemoryManager)
	}{
		{"volatile", TypeVolatile, false, func(t *testing.T, m MemoryManager) {
			assert.IsType(t, &VolatileStore{}, m)
		}},
		{"short_term alias", TypeShortTerm, false, func(t *testing.T, m MemoryManager) {
			assert.IsType(t, &VolatileStore{}, m)
		}},
		{"durable", TypeDurable, false, func(t *testing.T, m MemoryManager) {
			assert.IsType(t, &DurableStore{}, m)
		}},
		{"hybrid", TypeHybrid, false, func(t *testing.T, m MemoryManager) {
			assert.IsType(t, &HybridManager{}, m)
		}},
		{"secure hybrid", TypeHybrid, true, func(t *testing.T, m MemoryManager) {
			s, ok := m.(*SecureManager)
			require.True(t, ok)
			assert.IsType(t, &HybridManager{}, s.Inner())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Type = tt.typ
			cfg.Durable.Table.Backend = persistence.BackendMemory
			if tt.secure {
				cfg.Secure.Enabled = true
				cfg.Secure.EncryptionKey = testSecret
			}

			m, err := NewManager(testutil.TestContext(t), cfg, testutil.TestLogger(t), nil)
			require.NoError(t, err)
			defer m.Close()
			tt.check(t, m)

			// every variant honours the basic contract
			ctx := testutil.TestContext(t)
			conv, err := m.CreateConversation(ctx, nil)
			require.NoError(t, err)
			_, err = m.AddMessage(ctx, conv.ID, testutil.UserInput("hi"))
			require.NoError(t, err)
			msgs, err := m.GetMessages(ctx, conv.ID, types.MessageQuery{})
			require.NoError(t, err)
			assert.Len(t, msgs, 1)

			missing, err := m.GetConversation(ctx, "missing-id")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = "bogus"
	_, err := NewManager(testutil.TestContext(t), cfg, nil, nil)
	assert.ErrorContains(t, err, "invalid memory config")

	cfg = DefaultConfig()
	cfg.Secure.Enabled = true
	cfg.Secure.EncryptionKey = "short"
	_, err = NewManager(testutil.TestContext(t), cfg, nil, nil)
	assert.Error(t, err)
}
