package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentmem/internal/metrics"
	"github.com/BaSui01/agentmem/types"
)

// HybridManager 组合进程内存储与持久存储。
// 会话写入只落在进程内存储并记入脏集合，由后台同步循环批量写入持久层；
// 条目同时写两侧。读取优先进程内存储，未命中时回落到持久层。
type HybridManager struct {
	volatile *VolatileStore
	durable  SyncTarget
	dirty    *dirtySet

	interval     time.Duration
	syncTimeout  time.Duration
	flushOnClose bool
	limiter      *rate.Limiter

	// 同一 id 的并发回源合并为一次持久层读取
	group singleflight.Group

	syncMu    sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool

	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewHybridManager takes ownership of both stores. The background loop is
// not running until Start is called.
func NewHybridManager(volatile *VolatileStore, durable SyncTarget, config HybridConfig, logger *zap.Logger, collector *metrics.Collector) *HybridManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultHybridConfig()
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = defaults.SyncTimeout
	}

	h := &HybridManager{
		volatile:     volatile,
		durable:      durable,
		dirty:        newDirtySet(),
		interval:     config.SyncInterval,
		syncTimeout:  config.SyncTimeout,
		flushOnClose: config.FlushOnClose,
		stop:         make(chan struct{}),
		logger:       logger.With(zap.String("component", "memory_hybrid")),
		metrics:      collector,
	}
	if config.SyncRateLimit > 0 {
		burst := config.SyncBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(config.SyncRateLimit), burst)
	}

	// 被淘汰但尚未同步的数据保存在脏集合里，直到同步成功
	volatile.SetEvictionHandler(func(ev Eviction) {
		h.dirty.markEvicted(ev)
		h.metrics.SetDirtyConversations(h.dirty.len())
	})
	return h
}

// Start launches the background sync loop. It is a no-op when the sync
// interval is not positive or when called more than once.
func (h *HybridManager) Start() {
	if h.interval <= 0 {
		return
	}
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.syncLoop()
		h.logger.Info("sync loop started", zap.Duration("interval", h.interval))
	})
}

func (h *HybridManager) syncLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), h.syncTimeout)
			h.syncAll(ctx)
			cancel()
		}
	}
}

// Pending returns the number of conversations awaiting sync.
func (h *HybridManager) Pending() int {
	return h.dirty.len()
}

// ForceSyncAll runs one sync cycle and waits for it. Per-conversation
// failures are logged and re-queued, never returned.
func (h *HybridManager) ForceSyncAll(ctx context.Context) error {
	if h.closed.Load() {
		return errClosed(storeHybrid)
	}
	h.syncAll(ctx)
	return nil
}

// syncAll drains the dirty set and reconciles each conversation in turn.
// Cycles never overlap.
func (h *HybridManager) syncAll(ctx context.Context) {
	h.syncMu.Lock()
	defer h.syncMu.Unlock()

	tasks := h.dirty.drain()
	if len(tasks) == 0 {
		return
	}
	// 按 id 排序，便于日志比对
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].id < tasks[j].id })

	var synced, failed int
	for _, task := range tasks {
		source, err := h.syncOne(ctx, task)
		if err != nil {
			failed++
			// 本地副本可能在同步期间被淘汰，重试以读到的快照为准
			if source != nil {
				task.evicted = source
			}
			h.dirty.requeue(task)
			h.logger.Warn("conversation sync failed",
				zap.String("conversation_id", task.id),
				zap.Error(err))
			continue
		}
		h.dirty.done(task.id)
		synced++
	}

	h.metrics.RecordSyncCycle(synced, failed)
	h.metrics.SetDirtyConversations(h.dirty.len())
	h.logger.Debug("sync cycle finished",
		zap.Int("synced", synced),
		zap.Int("failed", failed))
}

// syncOne makes durable hold every message known locally for one id.
// The durable copy is created whole when absent, otherwise only messages
// missing by id are appended. The merged local view is returned so a failed
// attempt can be retried from it.
func (h *HybridManager) syncOne(ctx context.Context, task syncTask) (*types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	local, err := h.volatile.GetConversation(ctx, task.id)
	if err != nil {
		return nil, err
	}
	source := mergeConversations(task.evicted, local)
	if source == nil {
		// deleted after it was marked dirty
		return nil, nil
	}
	return source, h.push(ctx, source)
}

func (h *HybridManager) push(ctx context.Context, source *types.Conversation) error {
	if err := h.wait(ctx); err != nil {
		return err
	}
	remote, err := h.durable.GetConversation(ctx, source.ID)
	if err != nil {
		return err
	}
	if remote == nil {
		if err := h.wait(ctx); err != nil {
			return err
		}
		return h.durable.ImportConversation(ctx, source)
	}

	known := make(map[string]struct{}, len(remote.Messages))
	for _, m := range remote.Messages {
		known[m.ID] = struct{}{}
	}
	var missing []types.Message
	for _, m := range source.Messages {
		if _, ok := known[m.ID]; !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := h.wait(ctx); err != nil {
		return err
	}
	return h.durable.AppendMessages(ctx, source.ID, missing)
}

func (h *HybridManager) wait(ctx context.Context) error {
	if h.limiter == nil {
		return nil
	}
	return h.limiter.Wait(ctx)
}

func (h *HybridManager) markDirty(id string) {
	h.dirty.mark(id)
	h.metrics.SetDirtyConversations(h.dirty.len())
}

// CreateConversation creates in the volatile store; durable sees it on the
// next sync.
func (h *HybridManager) CreateConversation(ctx context.Context, metadata map[string]any) (_ *types.Conversation, err error) {
	defer observe(h.metrics, storeHybrid, OpCreateConversation, time.Now(), &err)

	if h.closed.Load() {
		return nil, errClosed(storeHybrid)
	}
	conv, err := h.volatile.CreateConversation(ctx, metadata)
	if err != nil {
		return nil, err
	}
	h.markDirty(conv.ID)
	return conv, nil
}

// GetConversation 先查进程内存储，未命中时回源持久层
func (h *HybridManager) GetConversation(ctx context.Context, id string) (_ *types.Conversation, err error) {
	defer observe(h.metrics, storeHybrid, OpGetConversation, time.Now(), &err)

	if h.closed.Load() {
		return nil, errClosed(storeHybrid)
	}
	conv, err := h.volatile.GetConversation(ctx, id)
	if err != nil || conv != nil {
		return conv, err
	}
	return h.remoteConversation(ctx, id)
}

// remoteConversation reads id from durable and overlays messages that were
// evicted locally but have not been synced yet. The shared fetch runs
// detached from any one caller; each caller still stops waiting on its own
// cancellation.
func (h *HybridManager) remoteConversation(ctx context.Context, id string) (*types.Conversation, error) {
	ch := h.group.DoChan("conversation:"+id, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.syncTimeout)
		defer cancel()
		return h.durable.GetConversation(fetchCtx, id)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	remote, _ := res.Val.(*types.Conversation)
	// merge always copies, so the shared result is never handed out
	return mergeConversations(remote, h.dirty.snapshot(id)), nil
}

// AddMessage appends in the volatile store. A conversation that only
// durable knows about (evicted earlier, or created by another process) is
// loaded back first.
func (h *HybridManager) AddMessage(ctx context.Context, id string, in types.MessageInput) (_ *types.Message, err error) {
	defer observe(h.metrics, storeHybrid, OpAddMessage, time.Now(), &err)

	if h.closed.Load() {
		return nil, errClosed(storeHybrid)
	}
	msg, err := h.volatile.AddMessage(ctx, id, in)
	if types.IsNotFound(err) {
		if err := h.hydrate(ctx, id); err != nil {
			return nil, err
		}
		msg, err = h.volatile.AddMessage(ctx, id, in)
	}
	if err != nil {
		return nil, err
	}
	h.markDirty(id)
	return msg, nil
}

// hydrate copies a conversation the volatile store no longer holds back
// into it.
func (h *HybridManager) hydrate(ctx context.Context, id string) error {
	_, err, _ := h.group.Do("hydrate:"+id, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		conv, err := h.remoteConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, types.NotFoundError("conversation", id)
		}
		return nil, h.volatile.ImportConversation(ctx, conv)
	})
	if err == nil {
		h.logger.Debug("conversation loaded from durable", zap.String("conversation_id", id))
	}
	return err
}

// GetMessages 先查进程内存储，会话不在其中时回源持久层
func (h *HybridManager) GetMessages(ctx context.Context, id string, q types.MessageQuery) (_ []types.Message, err error) {
	defer observe(h.metrics, storeHybrid, OpGetMessages, time.Now(), &err)

	if h.closed.Load() {
		return nil, errClosed(storeHybrid)
	}
	msgs, err := h.volatile.GetMessages(ctx, id, q)
	if !types.IsNotFound(err) {
		return msgs, err
	}
	conv, err := h.remoteConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, types.NotFoundError("conversation", id)
	}
	return q.Apply(conv.Messages), nil
}

// StoreItem writes both stores. The volatile write stands even when the
// durable write fails; the durable error is returned.
func (h *HybridManager) StoreItem(ctx context.Context, key string, value any, tags []string, ttl time.Duration) (_ *types.Item, err error) {
	defer observe(h.metrics, storeHybrid, OpStoreItem, time.Now(), &err)

	if h.closed.Load() {
		return nil, errClosed(storeHybrid)
	}
	item, err := h.volatile.StoreItem(ctx, key, value, tags, ttl)
	if err != nil {
		return nil, err
	}
	if _, err := h.durable.StoreItem(ctx, key, value, tags, ttl); err != nil {
		h.logger.Warn("durable item write failed",
			zap.String("key", key),
			zap.Error(err))
		return nil, err
	}
	return item, nil
}

// GetItem 先查进程内存储，再查持久层
func (h *HybridManager) GetItem(ctx context.Context, key string) (_ *types.Item, err error) {
	defer observe(h.metrics, storeHybrid, OpGetItem, time.Now(), &err)

	if h.closed.Load() {
		return nil, errClosed(storeHybrid)
	}
	item, err := h.volatile.GetItem(ctx, key)
	if err != nil || item != nil {
		return item, err
	}
	return h.durable.GetItem(ctx, key)
}

// SearchByTags merges both stores; the volatile copy wins on key collision.
func (h *HybridManager) SearchByTags(ctx context.Context, tags []string, limit int) (_ []types.Item, err error) {
	defer observe(h.metrics, storeHybrid, OpSearchByTags, time.Now(), &err)

	if h.closed.Load() {
		return nil, errClosed(storeHybrid)
	}
	local, err := h.volatile.SearchByTags(ctx, tags, 0)
	if err != nil {
		return nil, err
	}
	remote, err := h.durable.SearchByTags(ctx, tags, 0)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(local))
	out := make([]types.Item, 0, len(local)+len(remote))
	for _, it := range local {
		seen[it.Key] = struct{}{}
		out = append(out, it)
	}
	for _, it := range remote {
		if _, ok := seen[it.Key]; ok {
			continue
		}
		out = append(out, it)
	}
	sortItems(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteItem deletes from both stores and reports whether either held it.
func (h *HybridManager) DeleteItem(ctx context.Context, key string) (_ bool, err error) {
	defer observe(h.metrics, storeHybrid, OpDeleteItem, time.Now(), &err)

	if h.closed.Load() {
		return false, errClosed(storeHybrid)
	}
	local, lerr := h.volatile.DeleteItem(ctx, key)
	remote, rerr := h.durable.DeleteItem(ctx, key)
	return h.mergeDelete("item", key, local, lerr, remote, rerr)
}

// DeleteConversation deletes from both stores and drops any pending sync.
func (h *HybridManager) DeleteConversation(ctx context.Context, id string) (_ bool, err error) {
	defer observe(h.metrics, storeHybrid, OpDeleteConversation, time.Now(), &err)

	if h.closed.Load() {
		return false, errClosed(storeHybrid)
	}
	h.dirty.remove(id)
	h.metrics.SetDirtyConversations(h.dirty.len())

	local, lerr := h.volatile.DeleteConversation(ctx, id)
	remote, rerr := h.durable.DeleteConversation(ctx, id)
	return h.mergeDelete("conversation", id, local, lerr, remote, rerr)
}

func (h *HybridManager) mergeDelete(kind, id string, local bool, lerr error, remote bool, rerr error) (bool, error) {
	if rerr != nil {
		if !local {
			return false, rerr
		}
		h.logger.Warn("durable delete failed",
			zap.String("kind", kind),
			zap.String("id", id),
			zap.Error(rerr))
	}
	if lerr != nil && !remote {
		return false, lerr
	}
	return local || remote, nil
}

// Close stops the sync loop, flushes pending conversations when configured
// and closes both stores.
func (h *HybridManager) Close() error {
	var errs []error
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stop)
		h.wg.Wait()

		if h.flushOnClose {
			ctx, cancel := context.WithTimeout(context.Background(), h.syncTimeout)
			h.syncAll(ctx)
			cancel()
			if n := h.dirty.len(); n > 0 {
				h.logger.Warn("conversations left unsynced at close", zap.Int("pending", n))
			}
		}

		errs = append(errs, h.volatile.Close(), h.durable.Close())
		h.logger.Info("hybrid manager closed")
	})
	return errors.Join(errs...)
}
