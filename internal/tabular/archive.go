package tabular

import (
	"archive/zip"
	"bytes"
	"fmt"
	"time"
)

// File is a named blob produced by an export.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Encode writes ds with format f into a File named {title}.{key}.
func Encode(f Format, ds *Dataset) (File, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf, ds); err != nil {
		return File{}, fmt.Errorf("write %s as %s: %w", ds.Title, f.Key(), err)
	}
	return File{
		Name:        ds.Title + "." + f.Key(),
		ContentType: f.ContentType(),
		Data:        buf.Bytes(),
	}, nil
}

// Zip bundles files into a single archive named {name}.zip.
func Zip(name string, files []File) (File, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			return File{}, err
		}
		if _, err := w.Write(f.Data); err != nil {
			return File{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return File{}, err
	}
	return File{Name: name + ".zip", ContentType: "application/zip", Data: buf.Bytes()}, nil
}
