package memory

import (
	"sync"

	"github.com/BaSui01/agentmem/types"
)

// syncTask is one drained dirty entry. evicted carries messages (and, for a
// whole evicted conversation, its metadata) that already left the volatile
// store and must still reach durable.
type syncTask struct {
	id      string
	evicted *types.Conversation
}

// dirtySet is the only structure the write path shares with the sync loop.
// syncing holds ids drained by the running cycle until they succeed or are
// requeued.
type dirtySet struct {
	mu      sync.Mutex
	ids     map[string]struct{}
	evicted map[string]*types.Conversation
	syncing map[string]struct{}
}

func newDirtySet() *dirtySet {
	return &dirtySet{
		ids:     make(map[string]struct{}),
		evicted: make(map[string]*types.Conversation),
		syncing: make(map[string]struct{}),
	}
}

func (d *dirtySet) mark(id string) {
	d.mu.Lock()
	d.ids[id] = struct{}{}
	d.mu.Unlock()
}

// markEvicted keeps what the volatile store dropped until a sync succeeds.
// A whole conversation evicted while clean is already durable and ignored;
// one evicted while its sync is in flight is not clean yet.
func (d *dirtySet) markEvicted(ev Eviction) {
	if ev.Conversation == nil {
		return
	}
	id := ev.Conversation.ID

	d.mu.Lock()
	defer d.mu.Unlock()

	_, dirty := d.ids[id]
	_, pending := d.evicted[id]
	_, inFlight := d.syncing[id]
	if ev.Kind == EvictedConversation && !dirty && !pending && !inFlight {
		return
	}
	d.evicted[id] = mergeConversations(d.evicted[id], ev.Conversation)
	d.ids[id] = struct{}{}
}

func (d *dirtySet) remove(id string) {
	d.mu.Lock()
	delete(d.ids, id)
	delete(d.evicted, id)
	delete(d.syncing, id)
	d.mu.Unlock()
}

// drain empties the set and hands every entry to the caller. Each id stays
// in flight until done or requeue.
func (d *dirtySet) drain() []syncTask {
	d.mu.Lock()
	defer d.mu.Unlock()

	tasks := make([]syncTask, 0, len(d.ids))
	for id := range d.ids {
		tasks = append(tasks, syncTask{id: id, evicted: d.evicted[id]})
		d.syncing[id] = struct{}{}
	}
	d.ids = make(map[string]struct{})
	d.evicted = make(map[string]*types.Conversation)
	return tasks
}

// requeue puts a failed task back unless it was removed meanwhile. Evicted messages from the task are older
// than anything evicted since the drain, so they go first.
func (d *dirtySet) requeue(t syncTask) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.syncing[t.id]; !ok {
		// deleted while the attempt was in flight
		return
	}
	delete(d.syncing, t.id)
	d.ids[t.id] = struct{}{}
	if t.evicted != nil {
		d.evicted[t.id] = mergeConversations(t.evicted, d.evicted[t.id])
	}
}

// done marks a drained id as synced.
func (d *dirtySet) done(id string) {
	d.mu.Lock()
	delete(d.syncing, id)
	d.mu.Unlock()
}

// snapshot returns a copy of what was evicted for id and is still unsynced.
func (d *dirtySet) snapshot(id string) *types.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.evicted[id].Clone()
}

func (d *dirtySet) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

func (d *dirtySet) has(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id]
	return ok
}

// mergeConversations returns a new conversation with older's messages
// followed by newer's, de-duplicated by message id. Metadata and
// timestamps come from whichever side carries them, newer first.
func mergeConversations(older, newer *types.Conversation) *types.Conversation {
	switch {
	case older == nil && newer == nil:
		return nil
	case older == nil:
		return newer.Clone()
	case newer == nil:
		return older.Clone()
	}

	out := newer.Clone()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = older.CreatedAt
	}
	if out.UpdatedAt.Before(older.UpdatedAt) {
		out.UpdatedAt = older.UpdatedAt
	}
	if out.Metadata == nil {
		out.Metadata = older.Clone().Metadata
	}

	seen := make(map[string]struct{}, len(older.Messages)+len(newer.Messages))
	msgs := make([]types.Message, 0, len(older.Messages)+len(newer.Messages))
	for _, list := range [][]types.Message{older.Messages, newer.Messages} {
		for _, m := range list {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			msgs = append(msgs, m.Clone())
		}
	}
	out.Messages = msgs
	return out
}
