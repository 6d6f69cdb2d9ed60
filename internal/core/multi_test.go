package core

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/JonMunkholm/multiimport/internal/schema"
	"github.com/JonMunkholm/multiimport/internal/store"
	"github.com/JonMunkholm/multiimport/internal/tabular"
)

// =============================================================================
// Fixtures
// =============================================================================

func personName(r *schema.Record) string {
	return strings.TrimSpace(r.Attr("first_name") + " " + r.Attr("last_name"))
}

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	person := &schema.Model{
		Name: "Person",
		Fields: []schema.Field{
			{Name: "first_name", Required: true},
			{Name: "last_name"},
			{Name: "state", Normalizer: schema.NormalizeUSState},
			{Name: "partner", Kind: schema.KindToOne, Related: "Person"},
			{Name: "children", Kind: schema.KindToMany, Related: "Person"},
		},
		Properties: []schema.Property{{Name: "name", Get: personName}},
	}
	book := &schema.Model{
		Name: "Book",
		Fields: []schema.Field{
			{Name: "name", Required: true, Unique: true},
			{Name: "author", Kind: schema.KindToOne, Related: "Person"},
			{Name: "status", Type: schema.FieldEnum, EnumValues: []string{"Draft", "Published"}},
		},
	}
	cat, err := schema.NewCatalog(person, book)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return cat
}

func personDescriptor() Descriptor {
	return Descriptor{
		Key:          "person",
		Model:        "Person",
		IDColumn:     "person_id",
		LookupFields: []LookupKey{Single("pk"), Compound("first_name", "last_name")},
		Mappings: []Mapping{
			{Column: "person_id", Field: "pk"},
			{Column: "first_name"},
			{Column: "last_name"},
			{Column: "state"},
			{Column: "partner", LookupFields: []string{"name"}, Pass: 1},
			{Column: "children", LookupFields: []string{"name"}, Pass: 1},
		},
	}
}

func bookDescriptor() Descriptor {
	return Descriptor{
		Key:          "book",
		Model:        "Book",
		IDColumn:     "book_id",
		LookupFields: []LookupKey{Single("pk"), Single("name")},
		Mappings: []Mapping{
			{Column: "book_id", Field: "pk"},
			{Column: "name"},
			{Column: "author", LookupFields: []string{"name"}},
			{Column: "status"},
		},
		CanUpdate: func(rec *schema.Record) bool {
			return rec.Attr("status") != "Published"
		},
	}
}

type fixture struct {
	cat   *schema.Catalog
	store *store.Memory
	mi    *MultiImporter
}

// newFixture declares book before person so the import order has to be
// worked out from the relationships.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := testCatalog(t)
	st := store.NewMemory(cat)
	mi, err := NewMultiImporter(st, cat, []Descriptor{bookDescriptor(), personDescriptor()})
	if err != nil {
		t.Fatalf("NewMultiImporter: %v", err)
	}
	return &fixture{cat: cat, store: st, mi: mi}
}

func (f *fixture) importFiles(t *testing.T, mode Mode, files ...File) *MultiImportResult {
	t.Helper()
	res, err := f.mi.ImportFiles(context.Background(), files, mode)
	if err != nil {
		t.Fatalf("ImportFiles: %v", err)
	}
	return res
}

func csvFile(name, content string) File {
	return File{Name: name, Data: []byte(content)}
}

func resultFor(t *testing.T, res *MultiImportResult, filename string) *ImportResult {
	t.Helper()
	for _, f := range res.Files {
		if f.Filename == filename {
			return f.Result
		}
	}
	t.Fatalf("no result for %s (have %d files, errors %v)", filename, len(res.Files), res.Errors)
	return nil
}

// seed saves records directly, bypassing the importer's lookups.
func (f *fixture) seed(t *testing.T, recs ...*schema.Record) {
	t.Helper()
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, rec := range recs {
		if err := tx.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

const peopleCSV = "person_id,first_name,last_name,partner\n,Justin,Trudeau,\n"

// =============================================================================
// Binding and ordering
// =============================================================================

func TestNewMultiImporter_ImportOrder(t *testing.T) {
	f := newFixture(t)

	var declared, ordered []string
	for _, e := range f.mi.Entities() {
		declared = append(declared, e.Key)
	}
	for _, e := range f.mi.ImportOrder() {
		ordered = append(ordered, e.Key)
	}
	if !reflect.DeepEqual(declared, []string{"book", "person"}) {
		t.Errorf("declared = %v", declared)
	}
	if !reflect.DeepEqual(ordered, []string{"person", "book"}) {
		t.Errorf("ordered = %v, want person before book", ordered)
	}
}

func TestNewMultiImporter_ConfigErrors(t *testing.T) {
	cat := testCatalog(t)

	cycleA := &schema.Model{Name: "A", Fields: []schema.Field{{Name: "b", Kind: schema.KindToOne, Related: "B"}}}
	cycleB := &schema.Model{Name: "B", Fields: []schema.Field{{Name: "a", Kind: schema.KindToOne, Related: "A"}}}
	cycleCat, err := schema.NewCatalog(cycleA, cycleB)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	shared := personDescriptor()
	shared.Key = "people"

	unknownAttr := personDescriptor()
	unknownAttr.Mappings = append(unknownAttr.Mappings, Mapping{Column: "age"})

	relLookup := bookDescriptor()
	relLookup.LookupFields = []LookupKey{Single("author")}

	tests := []struct {
		name      string
		cat       *schema.Catalog
		descs     []Descriptor
		errSubstr string
	}{
		{
			name: "cycle",
			cat:  cycleCat,
			descs: []Descriptor{
				{Key: "a", Model: "A", LookupFields: []LookupKey{Single("pk")}, Mappings: []Mapping{{Column: "a_id", Field: "pk"}, {Column: "b"}}},
				{Key: "b", Model: "B", LookupFields: []LookupKey{Single("pk")}, Mappings: []Mapping{{Column: "b_id", Field: "pk"}, {Column: "a"}}},
			},
			errSubstr: "cycle detected",
		},
		{name: "shared id column", cat: cat, descs: []Descriptor{personDescriptor(), shared}, errSubstr: "is shared by entities"},
		{name: "duplicate key", cat: cat, descs: []Descriptor{personDescriptor(), personDescriptor()}, errSubstr: "already registered"},
		{name: "unknown attribute", cat: cat, descs: []Descriptor{unknownAttr}, errSubstr: `has no attribute "age"`},
		{name: "relationship-only lookup", cat: cat, descs: []Descriptor{relLookup}, errSubstr: "non-relationship"},
		{name: "unknown model", cat: cat, descs: []Descriptor{{Key: "x", Model: "Nope"}}, errSubstr: `unknown model "Nope"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMultiImporter(store.NewMemory(tt.cat), tt.cat, tt.descs)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errSubstr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.errSubstr)
			}
		})
	}
}

func TestIdentifyDataset(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{"person", []string{"person_id", "first_name"}, "person"},
		{"book", []string{"book_id", "name"}, "book"},
		{"most matching columns wins", []string{"book_id", "person_id", "name", "status"}, "book"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := f.mi.IdentifyDataset(tt.headers)
			if err != nil {
				t.Fatalf("IdentifyDataset: %v", err)
			}
			if e.Key != tt.want {
				t.Errorf("got %s, want %s", e.Key, tt.want)
			}
		})
	}

	if _, err := f.mi.IdentifyDataset([]string{"foo", "bar"}); !errors.Is(err, ErrUnknownDataset) {
		t.Errorf("err = %v, want ErrUnknownDataset", err)
	}
}

// =============================================================================
// Import
// =============================================================================

func TestImportFiles_PreviewDiff(t *testing.T) {
	f := newFixture(t)

	res := f.importFiles(t, ModePreview, csvFile("people.csv", peopleCSV))
	if !res.Valid() {
		t.Fatalf("result invalid: %+v", res.Errors)
	}
	if f.store.Count("Person") != 0 {
		t.Fatal("preview must not save")
	}

	diffs := res.Diffs()
	if len(diffs) != 1 {
		t.Fatalf("got %d diffs", len(diffs))
	}
	d := diffs[0]
	if d.Model != "person" || d.Filename != "people.csv" {
		t.Errorf("diff routed to %s/%s", d.Model, d.Filename)
	}
	if want := []string{"person_id", "first_name", "last_name", "partner"}; !reflect.DeepEqual(d.ColumnNames, want) {
		t.Errorf("ColumnNames = %v, want %v", d.ColumnNames, want)
	}
	if want := []string{"pk", "first_name", "last_name", "partner"}; !reflect.DeepEqual(d.Attributes, want) {
		t.Errorf("Attributes = %v, want %v", d.Attributes, want)
	}
	if len(d.NewObjects) != 1 || len(d.UpdatedObjects) != 0 || d.UnchangedObjects != 0 {
		t.Fatalf("new=%d updated=%d unchanged=%d", len(d.NewObjects), len(d.UpdatedObjects), d.UnchangedObjects)
	}

	obj := d.NewObjects[0]
	if obj.LineNumber != 2 || obj.RowNumber != 1 {
		t.Errorf("line %d row %d, want line 2 row 1", obj.LineNumber, obj.RowNumber)
	}
	want := [][]string{{""}, {"", "Justin"}, {"", "Trudeau"}, {""}}
	if !reflect.DeepEqual(obj.Attributes, want) {
		t.Errorf("Attributes = %v, want %v", obj.Attributes, want)
	}
}

func TestImportFiles_CommitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	file := csvFile("people.csv", "person_id,first_name,last_name,state\n,Justin,Trudeau,texas\n")

	res := f.importFiles(t, ModeCommit, file)
	if !res.Valid() || res.NumChanges() != 1 {
		t.Fatalf("valid=%v changes=%d", res.Valid(), res.NumChanges())
	}
	if got := f.store.Count("Person"); got != 1 {
		t.Fatalf("stored %d people, want 1", got)
	}

	res = f.importFiles(t, ModeCommit, file)
	if res.NumChanges() != 0 {
		t.Errorf("second import changed %d rows", res.NumChanges())
	}
	r := resultFor(t, res, "people.csv")
	if len(r.UnchangedRows()) != 1 {
		t.Errorf("unchanged = %d, want 1", len(r.UnchangedRows()))
	}
	if got := f.store.Count("Person"); got != 1 {
		t.Errorf("stored %d people after re-import, want 1", got)
	}
}

func TestImportFiles_Update(t *testing.T) {
	f := newFixture(t)
	f.importFiles(t, ModeCommit, csvFile("people.csv", "person_id,first_name,last_name,state\n,Justin,Trudeau,TX\n"))

	res := f.importFiles(t, ModePreview, csvFile("people.csv", "person_id,first_name,last_name,state\n,Justin,Trudeau,ohio\n"))
	r := resultFor(t, res, "people.csv")
	rows := r.UpdatedRows()
	if len(rows) != 1 {
		t.Fatalf("updated = %d, want 1", len(rows))
	}
	if rows[0].ID == "" {
		t.Error("updated row has no id")
	}
	if got := rows[0].Diff["state"]; !reflect.DeepEqual(got, []string{"TX", "OH"}) {
		t.Errorf("state diff = %v", got)
	}
	if got := rows[0].Diff["first_name"]; !reflect.DeepEqual(got, []string{"Justin"}) {
		t.Errorf("first_name diff = %v, want unchanged entry", got)
	}
}

func TestImportFiles_AllOrNothing(t *testing.T) {
	f := newFixture(t)

	res := f.importFiles(t, ModeCommit, csvFile("people.csv", "person_id,first_name,last_name\n,Justin,Trudeau\n,,Nobody\n"))
	if res.Valid() {
		t.Fatal("expected invalid result")
	}
	errs := resultFor(t, res, "people.csv").Errors()
	if len(errs) != 1 {
		t.Fatalf("errors = %+v", errs)
	}
	if errs[0].Attribute != "first_name" || errs[0].LineNumber != 3 || errs[0].RowNumber != 2 {
		t.Errorf("error = %+v", errs[0])
	}
	if got := f.store.Count("Person"); got != 0 {
		t.Errorf("stored %d people, want 0", got)
	}
}

func TestImportFiles_ForwardReferenceWithinEntity(t *testing.T) {
	f := newFixture(t)
	file := csvFile("people.csv", "person_id,first_name,last_name,partner\n"+
		",Justin,Trudeau,Margaret Sinclair\n"+
		",Margaret,Sinclair,Justin Trudeau\n")

	res := f.importFiles(t, ModeCommit, file)
	if !res.Valid() {
		t.Fatalf("invalid: %+v", resultFor(t, res, "people.csv").Errors())
	}
	r := resultFor(t, res, "people.csv")
	if len(r.NewRows()) != 2 {
		t.Fatalf("new = %d, want 2", len(r.NewRows()))
	}
	entry := r.NewRows()[0].Diff["partner"]
	if len(entry) != 3 || entry[1] != "Margaret Sinclair" || entry[2] == "" {
		t.Errorf("partner diff = %v, want [old new key]", entry)
	}

	exp, err := f.mi.Export(context.Background(), ExportOptions{Keys: []string{"person"}})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	rows := exp.Datasets[0].Rows
	if len(rows) != 2 || rows[0][4] != "Margaret Sinclair" || rows[1][4] != "Justin Trudeau" {
		t.Errorf("exported rows = %v", rows)
	}

	res = f.importFiles(t, ModePreview, file)
	if res.NumChanges() != 0 {
		t.Errorf("re-import changed %d rows", res.NumChanges())
	}
}

func TestImportFiles_ForwardReferenceAcrossEntities(t *testing.T) {
	f := newFixture(t)
	books := csvFile("books.csv", "book_id,name,author\n,Dune,Frank Herbert\n")
	people := csvFile("people.csv", "person_id,first_name,last_name\n,Frank,Herbert\n")

	res := f.importFiles(t, ModePreview, books, people)
	if !res.Valid() {
		t.Fatalf("invalid: %+v %+v", res.Errors, resultFor(t, res, "books.csv").Errors())
	}
	if res.Files[0].Filename != "people.csv" {
		t.Errorf("people must be imported first, got %s", res.Files[0].Filename)
	}
	if got := resultFor(t, res, "books.csv").NewRows()[0].Diff["author"]; !reflect.DeepEqual(got, []string{"", "Frank Herbert"}) {
		t.Errorf("author diff = %v", got)
	}
}

func TestImportFiles_UnknownRelated(t *testing.T) {
	f := newFixture(t)

	res := f.importFiles(t, ModePreview, csvFile("books.csv", "book_id,name,author\n,Dune,Nobody Here\n"))
	errs := resultFor(t, res, "books.csv").Errors()
	if len(errs) != 1 || errs[0].Message != `No match found for: "Nobody Here".` {
		t.Errorf("errors = %+v", errs)
	}
}

func TestImportFiles_UpdatedTwice(t *testing.T) {
	f := newFixture(t)
	f.importFiles(t, ModeCommit, csvFile("people.csv", "person_id,first_name,last_name\n,Justin,Trudeau\n"))

	res := f.importFiles(t, ModePreview, csvFile("people.csv", "person_id,first_name,last_name,state\n,Justin,Trudeau,TX\n,Justin,Trudeau,OH\n"))
	errs := resultFor(t, res, "people.csv").Errors()
	if len(errs) != 1 || errs[0].Message != "This item is being updated more than once." || errs[0].Attribute != "" {
		t.Errorf("errors = %+v", errs)
	}
}

func TestImportFiles_CanUpdate(t *testing.T) {
	f := newFixture(t)
	published := csvFile("books.csv", "book_id,name,status\n,Dune,Published\n")
	f.importFiles(t, ModeCommit, published)

	res := f.importFiles(t, ModePreview, published)
	if !res.Valid() {
		t.Errorf("unchanged locked rows are fine: %+v", resultFor(t, res, "books.csv").Errors())
	}

	res = f.importFiles(t, ModeCommit, csvFile("books.csv", "book_id,name,status\n,Dune,Draft\n"))
	errs := resultFor(t, res, "books.csv").Errors()
	if len(errs) != 1 || errs[0].Message != "Can not update this item." {
		t.Errorf("errors = %+v", errs)
	}
}

func TestImportFiles_FileErrors(t *testing.T) {
	f := newFixture(t)

	res := f.importFiles(t, ModeCommit,
		csvFile("people.csv", peopleCSV),
		csvFile("other.csv", "foo,bar\n1,2\n"),
	)
	if res.Valid() {
		t.Fatal("expected invalid result")
	}
	if got := res.Errors["other.csv"]; !reflect.DeepEqual(got, []string{ErrUnknownDataset.Error()}) {
		t.Errorf("file errors = %v", got)
	}
	if f.store.Count("Person") != 0 {
		t.Error("valid files must not be saved next to invalid ones")
	}
}

func TestImportFiles_RowOutcomes(t *testing.T) {
	const kids = "person_id,first_name,last_name\n,Kid,One\n,Kid,Two\n,Justin,Trudeau\n"

	tests := []struct {
		name        string
		committed   string
		seed        func(f *fixture) []*schema.Record
		files       []File
		wantErrs    []string
		wantChanges int
	}{
		{
			name: "several stored records match",
			seed: func(f *fixture) []*schema.Record {
				return []*schema.Record{
					newPerson(t, f.cat, "Justin", "Trudeau"),
					newPerson(t, f.cat, "Justin", "Trudeau"),
				}
			},
			files:    []File{csvFile("people.csv", "person_id,first_name,last_name,state\n,Justin,Trudeau,TX\n")},
			wantErrs: []string{"Multiple database entries match."},
		},
		{
			name:        "to-many split on commas",
			committed:   kids,
			files:       []File{csvFile("people.csv", "person_id,first_name,last_name,children\n,Justin,Trudeau,\"Kid One,Kid Two\"\n")},
			wantChanges: 1,
		},
		{
			name:        "to-many split on semicolons",
			committed:   kids,
			files:       []File{csvFile("people.csv", "person_id,first_name,last_name,children\n,Justin,Trudeau,Kid One; Kid Two\n")},
			wantChanges: 1,
		},
		{
			name:      "to-many reports every unknown item",
			committed: kids,
			files:     []File{csvFile("people.csv", "person_id,first_name,last_name,children\n,Justin,Trudeau,\"Kid One,Nobody,Ghost\"\n")},
			wantErrs: []string{
				`No match found for: "Nobody".`,
				`No match found for: "Ghost".`,
			},
		},
		{
			name:      "files of one entity share claims",
			committed: "person_id,first_name,last_name\n,Justin,Trudeau\n",
			files: []File{
				csvFile("people-a.csv", "person_id,first_name,last_name,state\n,Justin,Trudeau,TX\n"),
				csvFile("people-b.csv", "person_id,first_name,last_name,state\n,Justin,Trudeau,OH\n"),
			},
			wantErrs:    []string{"This item is being updated more than once."},
			wantChanges: 1,
		},
		{
			name: "files of one entity share a batch",
			files: []File{
				csvFile("people-a.csv", "person_id,first_name,last_name,partner\n,Justin,Trudeau,Margaret Sinclair\n"),
				csvFile("people-b.csv", "person_id,first_name,last_name\n,Margaret,Sinclair\n"),
			},
			wantChanges: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.committed != "" {
				f.importFiles(t, ModeCommit, csvFile("seed.csv", tt.committed))
			}
			if tt.seed != nil {
				f.seed(t, tt.seed(f)...)
			}

			res := f.importFiles(t, ModePreview, tt.files...)
			var got []string
			for _, file := range tt.files {
				for _, e := range resultFor(t, res, file.Name).Errors() {
					got = append(got, e.Message)
				}
			}
			if !reflect.DeepEqual(got, tt.wantErrs) {
				t.Errorf("errors = %q, want %q", got, tt.wantErrs)
			}
			if res.NumChanges() != tt.wantChanges {
				t.Errorf("changes = %d, want %d", res.NumChanges(), tt.wantChanges)
			}
		})
	}
}

func TestImportFiles_ToManyErrorsOnColumn(t *testing.T) {
	f := newFixture(t)
	f.importFiles(t, ModeCommit, csvFile("people.csv", "person_id,first_name,last_name\n,Kid,One\n"))

	res := f.importFiles(t, ModePreview, csvFile("people.csv", "person_id,first_name,last_name,children\n,Justin,Trudeau,\"Kid One,Nobody\"\n"))
	errs := resultFor(t, res, "people.csv").Errors()
	if len(errs) != 1 || errs[0].Attribute != "children" {
		t.Errorf("errors = %+v, want one children error", errs)
	}
}

func TestImportFiles_NewRecordWithChildren(t *testing.T) {
	f := newFixture(t)
	file := csvFile("people.csv", "person_id,first_name,last_name,children\n"+
		",Kid,One,\n"+
		",Kid,Two,\n"+
		",Justin,Trudeau,Kid One;Kid Two\n")

	res := f.importFiles(t, ModeCommit, file)
	if !res.Valid() || res.NumChanges() != 3 {
		t.Fatalf("valid=%v changes=%d errors=%+v", res.Valid(), res.NumChanges(), resultFor(t, res, "people.csv").Errors())
	}

	exp, err := f.mi.Export(context.Background(), ExportOptions{Keys: []string{"person"}})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	rows := exp.Datasets[0].Rows
	if len(rows) != 3 {
		t.Fatalf("exported %d rows, want 3", len(rows))
	}
	children, _ := rows[2][5].(string)
	if !strings.Contains(children, "Kid One") || !strings.Contains(children, "Kid Two") {
		t.Errorf("children = %q", children)
	}
}

func TestImportFiles_PreviewMatchesCommit(t *testing.T) {
	for _, mode := range []Mode{ModePreview, ModeCommit} {
		t.Run(mode.String(), func(t *testing.T) {
			f := newFixture(t)

			res := f.importFiles(t, mode, csvFile("books.csv", "book_id,name\n,Dune\n,Dune\n"))
			if res.Valid() {
				t.Fatal("duplicate names must be rejected")
			}
			errs := resultFor(t, res, "books.csv").Errors()
			if len(errs) != 1 || errs[0].Attribute != "name" || errs[0].Message != "Book with this name already exists." {
				t.Errorf("errors = %+v", errs)
			}
			if got := f.store.Count("Book"); got != 0 {
				t.Errorf("stored %d books, want 0", got)
			}
		})
	}
}

func TestImportFiles_LaterPassKeepsOldValues(t *testing.T) {
	f := newFixture(t)
	f.importFiles(t, ModeCommit, csvFile("people.csv", "person_id,first_name,last_name\n,Justin,Trudeau\n,Margaret,Sinclair\n"))

	res := f.importFiles(t, ModePreview, csvFile("people.csv", "person_id,first_name,last_name,partner\n,Justin,Trudeau,Margaret Sinclair\n"))
	d := res.Diffs()[0]
	if len(d.UpdatedObjects) != 1 {
		t.Fatalf("updated = %d, want 1", len(d.UpdatedObjects))
	}
	attrs := d.UpdatedObjects[0].Attributes
	if !reflect.DeepEqual(attrs[1], []string{"Justin"}) || !reflect.DeepEqual(attrs[2], []string{"Trudeau"}) {
		t.Errorf("name entries = %v %v, want old values", attrs[1], attrs[2])
	}
	if p := attrs[3]; len(p) != 3 || p[0] != "" || p[1] != "Margaret Sinclair" || p[2] == "" {
		t.Errorf("partner entry = %v, want [old new key]", p)
	}
}

func TestImportFiles_ExportRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.importFiles(t, ModeCommit, csvFile("people.csv", "person_id,first_name,last_name,state,partner\n"+
		",=SUM(A1),Trudeau,TX,Margaret Sinclair\n"+
		",Margaret,Sinclair,,\n"))

	exp, err := f.mi.Export(context.Background(), ExportOptions{Keys: []string{"person"}})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	file, err := exp.Package(tabular.CSV, "export")
	if err != nil {
		t.Fatalf("Package: %v", err)
	}

	res := f.importFiles(t, ModePreview, File{Name: file.Name, Data: file.Data})
	if !res.Valid() {
		t.Fatalf("invalid: %+v %+v", res.Errors, resultFor(t, res, file.Name).Errors())
	}
	if res.NumChanges() != 0 {
		t.Errorf("re-importing an export changed %d rows", res.NumChanges())
	}
	if got := len(resultFor(t, res, file.Name).UnchangedRows()); got != 2 {
		t.Errorf("unchanged = %d, want 2", got)
	}
}

// =============================================================================
// Replay
// =============================================================================

func TestReplay(t *testing.T) {
	f := newFixture(t)
	file := csvFile("people.csv", "person_id,first_name,last_name,partner\n"+
		",Justin,Trudeau,Margaret Sinclair\n"+
		",Margaret,Sinclair,\n")

	preview := f.importFiles(t, ModePreview, file)
	res, err := f.mi.Replay(context.Background(), preview.Diffs())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !res.Valid() || res.NumChanges() != 2 {
		t.Fatalf("valid=%v changes=%d", res.Valid(), res.NumChanges())
	}
	if got := f.store.Count("Person"); got != 2 {
		t.Errorf("stored %d people, want 2", got)
	}
}

func TestReplay_Errors(t *testing.T) {
	f := newFixture(t)

	diffs := []Diff{
		{
			Filename:    "people.csv",
			Model:       "person",
			ColumnNames: []string{"person_id", "first_name"},
			Attributes:  []string{"pk", "first_name"},
			UpdatedObjects: []DiffObject{
				{LineNumber: 2, RowNumber: 1, Attributes: [][]string{{""}, {"Justin", "Justine"}}},
			},
		},
		{Filename: "ghost.csv", Model: "ghost"},
	}

	res, err := f.mi.Replay(context.Background(), diffs)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Valid() {
		t.Fatal("expected invalid result")
	}
	errs := resultFor(t, res, "people.csv").Errors()
	if len(errs) != 1 || errs[0].Message != "Updated item has no id." {
		t.Errorf("row errors = %+v", errs)
	}
	if got := res.Errors["ghost.csv"]; len(got) != 1 || !strings.Contains(got[0], "ghost") {
		t.Errorf("file errors = %v", got)
	}
}

// =============================================================================
// Export
// =============================================================================

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.importFiles(t, ModeCommit, csvFile("people.csv", "person_id,first_name,last_name\n,=SUM(A1),Trudeau\n"))
	ctx := context.Background()

	res, err := f.mi.Export(ctx, ExportOptions{Keys: []string{"person"}})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	ds := res.Datasets[0]
	if want := []string{"person_id", "first_name", "last_name", "state", "partner", "children"}; !reflect.DeepEqual(ds.Headers, want) {
		t.Errorf("headers = %v", ds.Headers)
	}
	if len(ds.Rows) != 1 || ds.Rows[0][1] != " =SUM(A1)" {
		t.Errorf("rows = %v, want escaped formula", ds.Rows)
	}
	if ds.Rows[0][0] == "" {
		t.Error("pk column is empty")
	}

	all, err := f.mi.Export(ctx, ExportOptions{Template: true})
	if err != nil {
		t.Fatalf("Export template: %v", err)
	}
	if len(all.Datasets) != 2 || all.Datasets[0].Title != "book" || len(all.Datasets[1].Rows) != 0 {
		t.Errorf("template datasets = %+v", all.Datasets)
	}

	_, err = f.mi.Export(ctx, ExportOptions{Keys: []string{"person", "nope"}})
	var ike *InvalidKeysError
	if !errors.As(err, &ike) || !reflect.DeepEqual(ike.Keys, []string{"nope"}) {
		t.Errorf("err = %v, want InvalidKeysError for nope", err)
	}
}
