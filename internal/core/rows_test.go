package core

import (
	"reflect"
	"testing"

	"github.com/JonMunkholm/multiimport/internal/tabular"
)

func TestReadRows(t *testing.T) {
	ds := tabular.NewDataset("people", []string{"first_name", "notes", ""})
	ds.Rows = [][]any{
		{"Justin", "line one\r\nline two", "ignored"},
		{"", "  ", nil},
		{"  Margaret ", 12.0},
	}

	rows := ReadRows(ds)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (blank rows skipped)", len(rows))
	}

	if rows[0].RowNumber != 1 || rows[0].LineNumber != 2 {
		t.Errorf("row 0 at row %d line %d", rows[0].RowNumber, rows[0].LineNumber)
	}
	if got := rows[0].Data["notes"]; got != "line one\nline two" {
		t.Errorf("notes = %q", got)
	}
	if _, ok := rows[0].Data[""]; ok {
		t.Error("blank headers must be dropped")
	}

	// The embedded line break and the blank row both move the line count.
	if rows[1].RowNumber != 3 || rows[1].LineNumber != 5 {
		t.Errorf("row 1 at row %d line %d, want row 3 line 5", rows[1].RowNumber, rows[1].LineNumber)
	}
	want := map[string]string{"first_name": "Margaret", "notes": "12"}
	if !reflect.DeepEqual(rows[1].Data, want) {
		t.Errorf("data = %v, want %v", rows[1].Data, want)
	}
}

func TestNormalizeCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{" x ", "x"},
		{12.0, "12"},
		{12.5, "12.5"},
		{true, "True"},
		{int64(7), "7"},
	}
	for _, tt := range tests {
		if got := NormalizeCell(tt.in); got != tt.want {
			t.Errorf("NormalizeCell(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExcelEscape(t *testing.T) {
	tests := map[string]string{
		"":        "",
		"=SUM(1)": " =SUM(1)",
		"+1":      " +1",
		"-1":      " -1",
		"@x":      " @x",
		"plain":   "plain",
	}
	for in, want := range tests {
		if got := ExcelEscape(in); got != want {
			t.Errorf("ExcelEscape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{" a ; ;b;", []string{"a", "b"}},
		{"a,b;c", []string{"a", "b", "c"}},
		{"Kid One, Kid Two", []string{"Kid One", "Kid Two"}},
		{" ; , ", nil},
	}
	for _, tt := range tests {
		if got := SplitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRowStatus_String(t *testing.T) {
	if StatusNew.String() != "new" || StatusUpdate.String() != "update" || StatusUnchanged.String() != "unchanged" {
		t.Error("unexpected status names")
	}
	if RowStatus(0).String() != "error" {
		t.Error("zero status should read as error")
	}
}
