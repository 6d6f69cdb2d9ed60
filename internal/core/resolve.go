package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/multiimport/internal/schema"
	"github.com/JonMunkholm/multiimport/internal/store"
)

const (
	msgNoMatch         = "No match found for: \"%s\"."
	msgMultipleRelated = "Multiple matches found for: %s"
)

// resolveOne finds the record a to-one cell refers to. inBatch is true when
// the record was created earlier in the same run. Problems the user can fix
// come back as messages; err is reserved for store failures.
func (im *Importer) resolveOne(ctx context.Context, ic *ImportContext, m *BoundMapping, raw, recorded string) (rec *schema.Record, inBatch bool, msgs []string, err error) {
	value := NormalizeString(raw)
	if value == "" && recorded == "" {
		return nil, false, nil, nil
	}

	if recorded != "" {
		rec, inBatch, err = im.byKey(ctx, ic, m, recorded)
		if err != nil || rec != nil {
			return rec, inBatch, nil, err
		}
	}
	if value == "" {
		return nil, false, []string{fmt.Sprintf(msgNoMatch, recorded)}, nil
	}
	return im.lookupRelated(ctx, ic, m, value)
}

// resolveMany resolves every item of a to-many cell independently and
// collects all problems.
func (im *Importer) resolveMany(ctx context.Context, ic *ImportContext, m *BoundMapping, raw, recorded string) ([]*schema.Record, bool, []string, error) {
	tokens := listItems(m, raw)

	var keys []string
	if recorded != "" {
		keys = strings.Split(recorded, ",")
	}
	// Recorded keys only line up with tokens when every item was saved.
	if len(keys) != len(tokens) {
		keys = nil
	}

	var (
		out     []*schema.Record
		msgs    []string
		inBatch bool
	)
	for i, tok := range tokens {
		var key string
		if keys != nil {
			key = keys[i]
		}
		rec, fromBatch, itemMsgs, err := im.resolveOne(ctx, ic, m, tok, key)
		if err != nil {
			return nil, false, nil, err
		}
		if len(itemMsgs) > 0 {
			msgs = append(msgs, itemMsgs...)
			continue
		}
		if fromBatch {
			inBatch = true
		}
		out = append(out, rec)
	}
	if len(msgs) > 0 {
		return nil, false, msgs, nil
	}
	return out, inBatch, nil, nil
}

// byKey loads a related record by store key. A key that no longer exists
// is not an error: the caller falls back to a lookup by value.
func (im *Importer) byKey(ctx context.Context, ic *ImportContext, m *BoundMapping, key string) (*schema.Record, bool, error) {
	if rec, err := ic.NewObjects(m.Related).Find(key, []LookupKey{Single("pk")}); err == nil && rec != nil {
		return rec, true, nil
	}
	rec, err := ic.Tx.Get(ctx, m.Related.Name, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// lookupRelated searches records created in this run first, then the
// store, one lookup attribute at a time.
func (im *Importer) lookupRelated(ctx context.Context, ic *ImportContext, m *BoundMapping, value string) (*schema.Record, bool, []string, error) {
	keys := make([]LookupKey, len(m.LookupFields))
	for i, attr := range m.LookupFields {
		keys[i] = Single(attr)
	}

	rec, err := ic.NewObjects(m.Related).Find(value, keys)
	if errors.Is(err, ErrMultipleMatches) {
		return nil, false, []string{fmt.Sprintf(msgMultipleRelated, value)}, nil
	}
	if rec != nil {
		return rec, true, nil, nil
	}

	for _, attr := range m.LookupFields {
		recs, err := ic.Tx.Find(ctx, m.Related.Name, attr, value)
		if errors.Is(err, store.ErrUnknownAttr) {
			continue
		}
		if err != nil {
			return nil, false, nil, err
		}
		switch len(recs) {
		case 0:
			continue
		case 1:
			return recs[0], false, nil, nil
		}
		return nil, false, []string{fmt.Sprintf(msgMultipleRelated, value)}, nil
	}

	return nil, false, []string{fmt.Sprintf(msgNoMatch, value)}, nil
}
