package api

import (
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gridline/extractor/internal/datanorm"
	"github.com/gridline/extractor/internal/pkg/httputil"
	"github.com/gridline/extractor/internal/sheet"
)

// =============================================================================
// FILE HANDLERS
// =============================================================================
// Uploads land in the staging directory and are referenced by name in
// processing requests. Nothing here mutates the batch archive; the archiver
// copies staged files at run time.

const uploadMemoryLimit = 32 << 20 // form parsing threshold, larger files spill to disk

// UploadedFile describes one staged upload.
type UploadedFile struct {
	FileName string `json:"file_name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// UploadFile handles POST /api/files/upload (multipart, field "file").
// Only spreadsheet extensions are accepted. The stored name carries a random
// prefix so repeated uploads of the same file never collide.
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		httputil.BadRequest(w, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "file is required")
		return
	}
	defer file.Close()

	base := filepath.Base(header.Filename)
	if base == "." || base == string(filepath.Separator) || base == "" {
		httputil.BadRequest(w, "invalid file name")
		return
	}
	if !sheet.SupportedExt(base) {
		httputil.BadRequest(w, "unsupported file type: only .xlsx and .xls are accepted")
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		httputil.InternalError(w, err)
		return
	}

	stored := uuid.New().String()[:8] + "_" + base
	dest := filepath.Join(h.uploadDir, stored)
	out, err := os.Create(dest)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	size, err := io.Copy(out, file)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		httputil.InternalError(w, err)
		return
	}

	log.Printf("[API] staged upload %s (%d bytes)", stored, size)
	httputil.Created(w, UploadedFile{FileName: stored, Path: dest, Size: size})
}

// SheetPreview is one sheet's metadata plus its leading rows and a local
// header-row guess over them.
type SheetPreview struct {
	Name        string                `json:"name"`
	RowCount    int                   `json:"row_count"`
	ColumnCount int                   `json:"column_count"`
	Preview     [][]string            `json:"preview"`
	HeaderGuess *datanorm.HeaderGuess `json:"header_guess"`
}

// PreviewFile handles GET /api/files/{name}/preview?rows=N and returns every
// sheet's info with its first rows. The header guess is the local heuristic
// only; the model call during processing supersedes it.
func (h *Handlers) PreviewFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	// Browsers percent-encode non-ASCII file names and chi hands the segment
	// back still encoded. Decode before validating so %2F cannot smuggle a
	// path separator past the check.
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		httputil.BadRequest(w, "invalid file name")
		return
	}

	n := httputil.QueryInt(r, "rows", 10)
	if n < 1 {
		n = 10
	}
	if n > 50 {
		n = 50
	}

	path := filepath.Join(h.uploadDir, name)
	if _, err := os.Stat(path); err != nil {
		httputil.NotFound(w, "file not found: "+name)
		return
	}

	wb, err := sheet.Open(path)
	if err != nil {
		httputil.BadRequest(w, "cannot read workbook: "+err.Error())
		return
	}
	defer wb.Close()

	infos, err := wb.Sheets()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	previews := make([]SheetPreview, 0, len(infos))
	for _, info := range infos {
		rows, err := wb.PreviewRows(info.Name, n)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		previews = append(previews, SheetPreview{
			Name:        info.Name,
			RowCount:    info.RowCount,
			ColumnCount: info.ColumnCount,
			Preview:     rows,
			HeaderGuess: datanorm.GuessHeaderRow(rows),
		})
	}

	httputil.OK(w, map[string]any{"file_name": name, "sheets": previews})
}
