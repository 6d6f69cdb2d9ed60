package core

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/multiimport/internal/schema"
	"github.com/JonMunkholm/multiimport/internal/store"
)

type contextKey string

const (
	ctxKeyIPAddress contextKey = "import_ip"
	ctxKeyUserAgent contextKey = "import_ua"
)

// ContextWithIPAddress adds the client IP to context for import logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithUserAgent adds the User-Agent to context for import logging.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// GetIPAddressFromContext extracts the client IP from context.
func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// GetUserAgentFromContext extracts the User-Agent from context.
func GetUserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}

// Mode selects what an import does with its changes.
type Mode int

const (
	// ModePreview computes the diff and rolls back.
	ModePreview Mode = iota
	// ModeCommit applies the changes when every row is valid.
	ModeCommit
	// ModeReplay applies a previously computed diff.
	ModeReplay
)

func (m Mode) String() string {
	switch m {
	case ModeCommit:
		return "commit"
	case ModeReplay:
		return "replay"
	}
	return "preview"
}

// Commits reports whether a valid run is committed. Every mode saves inside
// the transaction; preview rolls it back.
func (m Mode) Commits() bool { return m != ModePreview }

// ImportContext is the state shared by every entity importer during one
// coordinated import. It lives for exactly one transaction.
type ImportContext struct {
	Mode   Mode
	Tx     store.Tx
	Logger *slog.Logger

	queries    map[string]*CachedQuery
	newObjects map[string]*ObjectCache
	claimed    map[schema.EntityRef]bool
}

// NewImportContext creates the shared state for one run.
func NewImportContext(mode Mode, tx store.Tx, logger *slog.Logger) *ImportContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportContext{
		Mode:       mode,
		Tx:         tx,
		Logger:     logger,
		queries:    make(map[string]*CachedQuery),
		newObjects: make(map[string]*ObjectCache),
		claimed:    make(map[schema.EntityRef]bool),
	}
}

// existing returns the lazily loaded cache of stored records for an entity.
func (c *ImportContext) existing(e *Entity) *CachedQuery {
	q, ok := c.queries[e.Key]
	if !ok {
		q = NewCachedQuery(e.LookupFields, e.lookupAttr, func(ctx context.Context) ([]*schema.Record, error) {
			return c.Tx.All(ctx, e.model.Name)
		})
		c.queries[e.Key] = q
	}
	return q
}

// NewObjects returns the cache of records created during this run for a
// model. Every readable attribute is indexed.
func (c *ImportContext) NewObjects(m *schema.Model) *ObjectCache {
	cache, ok := c.newObjects[m.Name]
	if !ok {
		keys := []LookupKey{Single("pk")}
		for _, f := range m.Fields {
			if !f.IsRelationship() {
				keys = append(keys, Single(f.Name))
			}
		}
		for _, p := range m.Properties {
			keys = append(keys, Single(p.Name))
		}
		cache = NewObjectCache(keys, nil)
		c.newObjects[m.Name] = cache
	}
	return cache
}

// claim marks rec as targeted by a row. It reports false when another row
// already claimed it.
func (c *ImportContext) claim(rec *schema.Record) bool {
	ref := rec.Ref()
	if c.claimed[ref] {
		return false
	}
	c.claimed[ref] = true
	return true
}
