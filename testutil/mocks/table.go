// =============================================================================
// 🗄️ MockTable - 远端表模拟实现
// =============================================================================
// 包装 persistence.MemoryTable，支持按操作注入错误并记录调用次数，
// 用于验证持久层故障时的错误映射与同步重试
//
// 使用方法:
//
//	table := mocks.NewMockTable()
//	table.FailOps(errors.New("throttled"), "Put", "BatchWrite")
//	table.Heal()
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentmem/persistence"
)

// MockTable 可注入故障的 Table
type MockTable struct {
	inner *persistence.MemoryTable

	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

// NewMockTable 创建新的 MockTable
func NewMockTable() *MockTable {
	return &MockTable{
		inner: persistence.NewMemoryTable(),
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

// FailOps 让列出的操作返回 err；不传操作名时所有操作都失败
func (m *MockTable) FailOps(err error, ops ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ops) == 0 {
		ops = []string{"Get", "Put", "Delete", "Scan", "BatchWrite", "Ping"}
	}
	for _, op := range ops {
		m.fail[op] = err
	}
}

// Heal 清除所有注入的错误
func (m *MockTable) Heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = make(map[string]error)
}

// Calls 返回操作被调用的次数
func (m *MockTable) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Len 返回底层记录数
func (m *MockTable) Len() int {
	return m.inner.Len()
}

func (m *MockTable) enter(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.fail[op]
}

// Get implements persistence.Table
func (m *MockTable) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.enter("Get"); err != nil {
		return nil, err
	}
	return m.inner.Get(ctx, key)
}

// Put implements persistence.Table
func (m *MockTable) Put(ctx context.Context, key string, value []byte) error {
	if err := m.enter("Put"); err != nil {
		return err
	}
	return m.inner.Put(ctx, key, value)
}

// Delete implements persistence.Table
func (m *MockTable) Delete(ctx context.Context, key string) (bool, error) {
	if err := m.enter("Delete"); err != nil {
		return false, err
	}
	return m.inner.Delete(ctx, key)
}

// Scan implements persistence.Table
func (m *MockTable) Scan(ctx context.Context, prefix, cursor string, limit int) ([]persistence.Record, string, error) {
	if err := m.enter("Scan"); err != nil {
		return nil, "", err
	}
	return m.inner.Scan(ctx, prefix, cursor, limit)
}

// BatchWrite implements persistence.Table
func (m *MockTable) BatchWrite(ctx context.Context, puts []persistence.Record, deletes []string) error {
	if err := m.enter("BatchWrite"); err != nil {
		return err
	}
	return m.inner.BatchWrite(ctx, puts, deletes)
}

// Ping implements persistence.Table
func (m *MockTable) Ping(ctx context.Context) error {
	if err := m.enter("Ping"); err != nil {
		return err
	}
	return m.inner.Ping(ctx)
}

// Close implements persistence.Table
func (m *MockTable) Close() error {
	m.enter("Close")
	return m.inner.Close()
}

var _ persistence.Table = (*MockTable)(nil)
