package core

import (
	"context"
	"errors"
	"testing"

	"github.com/JonMunkholm/multiimport/internal/schema"
)

func newPerson(t *testing.T, cat *schema.Catalog, first, last string) *schema.Record {
	t.Helper()
	m, _ := cat.Get("Person")
	rec := schema.NewRecord(m)
	rec.Set("first_name", first)
	rec.Set("last_name", last)
	return rec
}

func TestLookupKey_String(t *testing.T) {
	if got := Single("name").String(); got != "name" {
		t.Errorf("Single = %q", got)
	}
	if got := Compound("arg2", "arg3").String(); got != "(arg2,arg3)" {
		t.Errorf("Compound = %q", got)
	}
	if Single("name").IsCompound() || !Compound("a", "b").IsCompound() {
		t.Error("IsCompound mismatch")
	}
}

func TestObjectCache_CompoundKey(t *testing.T) {
	cat := testCatalog(t)
	trudeau := newPerson(t, cat, "Justin", "Trudeau")
	bieber := newPerson(t, cat, "Justin", "Bieber")

	c := NewObjectCache([]LookupKey{Single("first_name"), Compound("first_name", "last_name")}, nil)
	c.Add(trudeau)
	c.Add(bieber)
	c.Add(trudeau)
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (same record added twice)", c.Len())
	}

	rec, err := c.Get(Compound("first_name", "last_name"), map[string]string{"first_name": "Justin", "last_name": "Bieber"})
	if err != nil || rec != bieber {
		t.Errorf("compound Get = %v, %v", rec, err)
	}

	_, err = c.Get(Single("first_name"), map[string]string{"first_name": "Justin"})
	if !errors.Is(err, ErrMultipleMatches) {
		t.Errorf("err = %v, want ErrMultipleMatches", err)
	}

	rec, err = c.Get(Compound("first_name", "last_name"), map[string]string{"first_name": "Justin"})
	if err != nil || rec != nil {
		t.Errorf("missing attribute must not match: %v, %v", rec, err)
	}

	rec, err = c.Match(map[string]string{"first_name": "Margaret", "last_name": "Bieber"}, c.keys)
	if err != nil || rec != nil {
		t.Errorf("Match = %v, %v, want no match", rec, err)
	}
}

func TestObjectCache_Find(t *testing.T) {
	cat := testCatalog(t)
	trudeau := newPerson(t, cat, "Justin", "Trudeau")

	c := NewObjectCache([]LookupKey{Compound("first_name", "last_name"), Single("name")}, nil)
	c.Add(trudeau)

	rec, err := c.Find("Justin Trudeau", c.keys)
	if err != nil || rec != trudeau {
		t.Errorf("Find by property = %v, %v", rec, err)
	}
	if rec, _ := c.Find("Justin", c.keys); rec != nil {
		t.Error("compound keys must be skipped by Find")
	}
}

func TestCachedQuery_LoadsOnce(t *testing.T) {
	cat := testCatalog(t)
	calls := 0
	q := NewCachedQuery([]LookupKey{Single("first_name")}, nil, func(context.Context) ([]*schema.Record, error) {
		calls++
		return []*schema.Record{newPerson(t, cat, "Justin", "Trudeau")}, nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec, err := q.Match(ctx, map[string]string{"first_name": "Justin"})
		if err != nil || rec == nil {
			t.Fatalf("Match = %v, %v", rec, err)
		}
	}
	if calls != 1 {
		t.Errorf("load called %d times, want 1", calls)
	}
}

func TestCachedQuery_LoadError(t *testing.T) {
	boom := errors.New("boom")
	q := NewCachedQuery([]LookupKey{Single("pk")}, nil, func(context.Context) ([]*schema.Record, error) {
		return nil, boom
	})
	if _, err := q.Match(context.Background(), map[string]string{"pk": "1"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
