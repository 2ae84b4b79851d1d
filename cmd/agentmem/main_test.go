package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentmem/config"
	"github.com/BaSui01/agentmem/memory"
	"github.com/BaSui01/agentmem/persistence"
	"github.com/BaSui01/agentmem/types"
)

func TestInitLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := initLogger(config.LogConfig{Level: tt.level, Format: "json", OutputPaths: []string{"stderr"}})
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestInitLogger_ConsoleAndEmptyOutputs(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "info", Format: "console"})
	require.NotNil(t, logger)
	logger.Info("console logger works")
}

func TestBootstrap_LoadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmem.yaml")
	yaml := `
memory:
  type: durable
log:
  level: error
  output_paths: ["stderr"]
metrics:
  namespace: cli_test
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	a, err := bootstrap(path)
	require.NoError(t, err)
	defer a.close()

	assert.Equal(t, "error", a.cfg.Log.Level)
	require.NotNil(t, a.registry)
	require.NotNil(t, a.collector)

	// 独立 registry，重复 bootstrap 不会重复注册
	b, err := bootstrap(path)
	require.NoError(t, err)
	b.close()
}

func TestBootstrap_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("AGENTMEM_LOG_FORMAT", "xml")
	_, err := bootstrap("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log format")
}

func TestSummarizeAndWriteJSON(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	convs := []types.Conversation{{
		ID:        "c1",
		Messages:  []types.Message{{ID: "m1", Role: types.RoleUser, Content: "hi"}},
		CreatedAt: created,
		UpdatedAt: created,
	}}

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, summarize(convs)))
	assert.JSONEq(t, `[{"id":"c1","messages":1,"created_at":"2024-05-01T12:00:00Z","updated_at":"2024-05-01T12:00:00Z"}]`, buf.String())
}

func TestRunGet_RequiresID(t *testing.T) {
	err := runGet(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage")
}

func TestRunList_MemoryBackend(t *testing.T) {
	t.Setenv("AGENTMEM_LOG_OUTPUT_PATHS", "stderr")
	t.Setenv("AGENTMEM_MEMORY_DURABLE_TABLE_BACKEND", "memory")
	assert.NoError(t, runList([]string{"--limit", "5"}))
}

func TestRunMigrate_NonSQLBackend(t *testing.T) {
	t.Setenv("AGENTMEM_LOG_OUTPUT_PATHS", "stderr")
	assert.NoError(t, runMigrate(nil))
}

func TestRunPing_MemoryBackend(t *testing.T) {
	t.Setenv("AGENTMEM_LOG_OUTPUT_PATHS", "stderr")
	assert.NoError(t, runPing(nil))
}

const testJWTSecret = "cli-test-secret"

func signedToken(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   subject,
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func accessControlledApp() *app {
	cfg := config.DefaultConfig()
	cfg.Memory.Durable.Table.Backend = persistence.BackendMemory
	cfg.Memory.Secure.Enabled = true
	cfg.Memory.Secure.EncryptionKey = "0123456789abcdef0123456789abcdef"
	cfg.Memory.Secure.AccessControl = memory.AccessControlConfig{
		Enabled:   true,
		Roles:     map[string][]string{"reader": {memory.OpGetConversation}},
		JWTSecret: testJWTSecret,
	}
	return &app{cfg: cfg, logger: zap.NewNop()}
}

func TestCallerContext_TokenDrivesAccessPolicy(t *testing.T) {
	a := accessControlledApp()
	ctx := context.Background()

	durable, err := a.openDurable(ctx)
	require.NoError(t, err)
	conv, err := durable.CreateConversation(ctx, nil)
	require.NoError(t, err)

	store, err := a.reader(durable)
	require.NoError(t, err)
	defer store.Close()

	t.Run("reader role", func(t *testing.T) {
		callerCtx, err := a.callerContext(ctx, signedToken(t, "alice", "reader"))
		require.NoError(t, err)
		p, ok := memory.PrincipalFromContext(callerCtx)
		require.True(t, ok)
		assert.Equal(t, "alice", p.UserID)

		var buf bytes.Buffer
		require.NoError(t, printConversation(callerCtx, &buf, store, conv.ID))
		assert.Contains(t, buf.String(), conv.ID)
	})

	t.Run("role without grant", func(t *testing.T) {
		callerCtx, err := a.callerContext(ctx, signedToken(t, "bob", "guest"))
		require.NoError(t, err)
		err = printConversation(callerCtx, &bytes.Buffer{}, store, conv.ID)
		require.Error(t, err)
		assert.Equal(t, types.ErrAccessDenied, types.GetErrorCode(err))
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := a.callerContext(ctx, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--token")
	})

	t.Run("wrong secret", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "mallory"}).
			SignedString([]byte("other-secret"))
		require.NoError(t, err)
		_, err = a.callerContext(ctx, forged)
		require.Error(t, err)
	})
}

func TestCallerContext_OptionalWithoutAccessControl(t *testing.T) {
	a := &app{cfg: config.DefaultConfig(), logger: zap.NewNop()}
	ctx := context.Background()

	got, err := a.callerContext(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ctx, got)
}
