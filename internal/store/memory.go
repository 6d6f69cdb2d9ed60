package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/JonMunkholm/multiimport/internal/schema"
)

// Memory keeps committed rows in process memory. One transaction may be
// open at a time; Begin blocks until the previous one finishes.
type Memory struct {
	cat    *schema.Catalog
	writer chan struct{}

	mu     sync.RWMutex
	tables map[string][]row
}

// NewMemory creates an empty in-memory store.
func NewMemory(cat *schema.Catalog) *Memory {
	return &Memory{
		cat:    cat,
		writer: make(chan struct{}, 1),
		tables: make(map[string][]row),
	}
}

// Begin snapshots the committed rows.
func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	select {
	case m.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.RLock()
	snapshot := make(map[string][]row, len(m.tables))
	for model, rows := range m.tables {
		copied := make([]row, len(rows))
		for i, r := range rows {
			copied[i] = r.clone()
		}
		snapshot[model] = copied
	}
	m.mu.RUnlock()

	return newGraphTx(m.cat, &memBackend{store: m, tables: snapshot}), nil
}

// Count returns the number of committed rows for a model.
func (m *Memory) Count(model string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[model])
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

type memBackend struct {
	store  *Memory
	tables map[string][]row
}

func (b *memBackend) selectRows(_ context.Context, model string) ([]row, error) {
	rows := b.tables[model]
	out := make([]row, len(rows))
	for i, r := range rows {
		out[i] = r.clone()
	}
	return out, nil
}

func (b *memBackend) insertRow(_ context.Context, model string, r row) error {
	b.tables[model] = append(b.tables[model], r.clone())
	return nil
}

func (b *memBackend) updateRow(_ context.Context, model string, r row) error {
	for i := range b.tables[model] {
		if b.tables[model][i].ID == r.ID {
			b.tables[model][i] = r.clone()
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s", ErrNotFound, model, r.ID)
}

func (b *memBackend) commit(context.Context) error {
	b.store.mu.Lock()
	b.store.tables = b.tables
	b.store.mu.Unlock()
	<-b.store.writer
	return nil
}

func (b *memBackend) rollback(context.Context) error {
	<-b.store.writer
	return nil
}
