package tabular

import (
	"bytes"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

var zipMagic = []byte("PK\x03\x04")

type xlsxFormat struct{}

func (xlsxFormat) Key() string { return "xlsx" }
func (xlsxFormat) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (xlsxFormat) Detect(data []byte) bool {
	if !bytes.HasPrefix(data, zipMagic) {
		return false
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Read returns one dataset per non-empty sheet, titled with the sheet name.
func (xlsxFormat) Read(data []byte) ([]*Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*Dataset
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		ds := &Dataset{Title: sheet, Headers: trimHeaders(rows[0])}
		ds.Rows = stringRows(rows[1:], len(ds.Headers))
		out = append(out, ds)
	}
	return out, nil
}

func (xlsxFormat) Write(w io.Writer, ds *Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(ds.Title)
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return err
		}
	}

	header := make([]any, len(ds.Headers))
	for i, h := range ds.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, r := range ds.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := append([]any(nil), r...)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// sheetName strips characters Excel rejects and limits the length to 31.
func sheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return -1
		}
		return r
	}, strings.TrimSpace(title))
	if len([]rune(name)) > 31 {
		name = string([]rune(name)[:31])
	}
	if name == "" {
		return "Sheet1"
	}
	return name
}
