package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmem/internal/server"
	"github.com/BaSui01/agentmem/memory"
	"github.com/BaSui01/agentmem/persistence"
	"github.com/BaSui01/agentmem/types"
)

// commandTimeout 单次运维命令的总超时
const commandTimeout = 30 * time.Second

// tokenEnv 未传 --token 时读取的环境变量
const tokenEnv = "AGENTMEM_TOKEN"

// openDurable 打开配置的持久存储
func (a *app) openDurable(ctx context.Context) (*memory.DurableStore, error) {
	return memory.NewDurableStore(ctx, a.cfg.Memory.Durable, a.logger, a.collector)
}

// reader 返回用于读取的管理器。启用加密时套一层 SecureManager 以解密；
// 配置了访问控制时沿用配置中的角色策略，否则放行。
func (a *app) reader(durable *memory.DurableStore) (memory.MemoryManager, error) {
	secure := a.cfg.Memory.Secure
	if !secure.Enabled {
		return durable, nil
	}
	var opts []memory.SecureOption
	if !secure.AccessControl.Enabled {
		opts = append(opts, memory.WithAccessPolicy(memory.NewAllowAllPolicy(a.logger)))
	}
	return memory.NewSecureManager(durable, secure, a.logger, a.collector, opts...)
}

// callerContext 校验 --token 并把其中的身份挂到 ctx 上。
// 访问控制开启时必须提供令牌。
func (a *app) callerContext(ctx context.Context, token string) (context.Context, error) {
	secure := a.cfg.Memory.Secure
	enforced := secure.Enabled && secure.AccessControl.Enabled
	if token == "" {
		if enforced {
			return nil, errors.New("access control is enabled: --token is required")
		}
		return ctx, nil
	}
	principal, err := memory.ParsePrincipalToken(token, secure.AccessControl.JWTSecret)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("caller authenticated",
		zap.String("user_id", principal.UserID),
		zap.Strings("roles", principal.Roles))
	return memory.WithPrincipal(ctx, principal), nil
}

// =============================================================================
// 🏥 ping
// =============================================================================

func runPing(args []string) error {
	fs, configPath := newFlagSet("ping")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	tableCfg := a.cfg.Memory.Durable.Table
	// 只做连通性检查，不建表
	tableCfg.SQL.AutoMigrate = false
	table, err := persistence.NewTable(ctx, tableCfg, a.logger)
	if err != nil {
		return types.UnavailableError("ping", err)
	}
	defer table.Close()

	if err := table.Ping(ctx); err != nil {
		return types.UnavailableError("ping", err)
	}
	fmt.Printf("OK (%s)\n", tableCfg.Backend)

	if sqlTable, ok := table.(*persistence.SQLTable); ok {
		return writeJSON(os.Stdout, sqlTable.Stats())
	}
	return nil
}

// =============================================================================
// 🗄️ migrate
// =============================================================================

func runMigrate(args []string) error {
	fs, configPath := newFlagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	tableCfg := a.cfg.Memory.Durable.Table
	if !tableCfg.Backend.IsSQL() {
		fmt.Printf("backend %q has no schema to migrate\n", tableCfg.Backend)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	// 由本命令显式建表
	tableCfg.SQL.AutoMigrate = false
	table, err := persistence.NewSQLTable(ctx, tableCfg, a.logger)
	if err != nil {
		return err
	}
	defer table.Close()

	if err := table.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("migration complete",
		zap.String("backend", string(tableCfg.Backend)),
		zap.String("table", tableCfg.TableName),
	)
	fmt.Println("Migration complete")
	return nil
}

// =============================================================================
// 📋 list / get
// =============================================================================

// conversationSummary list 命令的输出行
type conversationSummary struct {
	ID        string    `json:"id"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func summarize(convs []types.Conversation) []conversationSummary {
	out := make([]conversationSummary, len(convs))
	for i, c := range convs {
		out[i] = conversationSummary{
			ID:        c.ID,
			Messages:  len(c.Messages),
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runList(args []string) error {
	fs, configPath := newFlagSet("list")
	limit := fs.Int("limit", 20, "Maximum number of conversations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	durable, err := a.openDurable(ctx)
	if err != nil {
		return err
	}
	defer durable.Close()

	convs, err := durable.ListConversations(ctx, *limit)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, summarize(convs))
}

func runGet(args []string) error {
	fs, configPath := newFlagSet("get")
	token := fs.String("token", os.Getenv(tokenEnv), "Caller identity token (HS256 JWT)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: agentmem get [--config path] [--token jwt] <conversation-id>")
	}
	id := fs.Arg(0)

	a, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ctx, err = a.callerContext(ctx, *token)
	if err != nil {
		return err
	}
	durable, err := a.openDurable(ctx)
	if err != nil {
		return err
	}
	store, err := a.reader(durable)
	if err != nil {
		_ = durable.Close()
		return err
	}
	defer store.Close()

	return printConversation(ctx, os.Stdout, store, id)
}

func printConversation(ctx context.Context, w io.Writer, store memory.MemoryManager, id string) error {
	conv, err := store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		return types.NotFoundError("conversation", id)
	}
	return writeJSON(w, conv)
}

// =============================================================================
// 🖥️ serve
// =============================================================================

func runServe(args []string) error {
	fs, configPath := newFlagSet("serve")
	addr := fs.String("addr", "", "Ops listen address (overrides metrics.listen_addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("starting agentmem",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("memory_type", string(a.cfg.Memory.Type.Normalize())),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := memory.NewManager(ctx, a.cfg.Memory, a.logger, a.collector)
	if err != nil {
		return err
	}

	// 持久层健康检查：durable 与 hybrid 共用同一后端配置
	var health server.HealthFunc
	if a.cfg.Memory.Type.Normalize() != memory.TypeVolatile {
		healthTable, err := persistence.NewTable(ctx, a.cfg.Memory.Durable.Table, a.logger)
		if err != nil {
			_ = mgr.Close()
			return err
		}
		defer healthTable.Close()
		health = healthTable.Ping
	}

	srvCfg := server.DefaultConfig()
	if a.cfg.Metrics.ListenAddr != "" {
		srvCfg.Addr = a.cfg.Metrics.ListenAddr
	}
	if *addr != "" {
		srvCfg.Addr = *addr
	}
	var ops *server.Manager
	if a.registry != nil {
		ops = server.NewManager(srvCfg, a.registry, health, a.logger)
		if err := ops.Start(); err != nil {
			_ = mgr.Close()
			return err
		}
	}

	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case err := <-opsErrors(ops):
		a.logger.Error("ops server exited unexpectedly", zap.Error(err))
	}

	var errs []error
	if ops != nil {
		errs = append(errs, ops.Shutdown(context.Background()))
	}
	// Close 会在配置了 FlushOnClose 时执行最后一次同步
	errs = append(errs, mgr.Close())
	a.logger.Info("agentmem stopped")
	return errors.Join(errs...)
}

func opsErrors(ops *server.Manager) <-chan error {
	if ops == nil {
		return nil
	}
	return ops.Errors()
}
