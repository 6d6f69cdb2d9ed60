package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JonMunkholm/multiimport/internal/core"
	"github.com/JonMunkholm/multiimport/internal/tabular"
	"github.com/JonMunkholm/multiimport/internal/web/templates"
)

// maxFilesPerRequest bounds the multipart body together with the per-file
// size limit.
const maxFilesPerRequest = 10

// ImportResponse is returned by the preview, commit and replay endpoints.
// Diffs can be posted back to /api/import/replay unchanged.
type ImportResponse struct {
	Result *core.MultiImportResult `json:"result"`
	Diffs  []core.Diff             `json:"diffs"`
}

// ReplayRequest is the body of /api/import/replay.
type ReplayRequest struct {
	Diffs []core.Diff `json:"diffs"`
}

// handleIndex renders the entity overview page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	params := templates.IndexParams{
		Entities: s.service.Entities(),
		Formats:  tabular.Keys(),
	}
	if err := templates.IndexPage(params).Render(r.Context(), w); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

// handleListEntities returns every entity in import order.
func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Entities())
}

// handleStatus reports import slot usage.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Limiter().Status())
}

// handlePreview computes what an import would change without saving.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.handleImport(w, r, true)
}

// handleCommit imports uploaded files, saving only when every row is valid.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	s.handleImport(w, r, false)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, dryRun bool) {
	files, err := s.readFiles(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	res, err := s.service.Import(ctx, files, dryRun)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeImportResult(w, res)
}

// handleReplay commits the diffs of an earlier preview.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)

	diffs, err := core.DecodeDiffs(r.Body)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	res, err := s.service.Replay(ctx, diffs)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeImportResult(w, res)
}

// handleExport downloads stored records. Query parameters: keys (comma
// separated, default all) and format (default from config).
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, false)
}

// handleTemplate downloads header-only files.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, true)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, template bool) {
	opts := core.ExportOptions{
		Keys:     splitKeys(r.URL.Query().Get("keys")),
		Template: template,
	}
	file, err := s.service.Export(r.Context(), opts, r.URL.Query().Get("format"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Name))
	_, _ = w.Write(file.Data)
}

// readFiles collects every uploaded file from the "files" (or "file") form
// field.
func (s *Server) readFiles(w http.ResponseWriter, r *http.Request) ([]core.File, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize*maxFilesPerRequest)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, core.ErrFileTooLarge
		}
		return nil, core.ErrNoFiles
	}

	var files []core.File
	for _, field := range []string{"files", "file"} {
		for _, fh := range r.MultipartForm.File[field] {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
			}
			files = append(files, core.File{Name: fh.Filename, Data: data})
		}
	}
	if len(files) == 0 {
		return nil, core.ErrNoFiles
	}
	return files, nil
}

// writeImportResult answers 200 for valid results and 422 otherwise. The
// body is the same either way.
func writeImportResult(w http.ResponseWriter, res *core.MultiImportResult) {
	status := http.StatusOK
	if !res.Valid() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ImportResponse{Result: res, Diffs: res.Diffs()})
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
