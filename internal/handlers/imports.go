package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rtb-inventory-api/internal/apperr"
	"rtb-inventory-api/internal/auth"
	"rtb-inventory-api/internal/models"
	"rtb-inventory-api/internal/workflow"
	"rtb-inventory-api/pkg/importer"
)

// Registrar registers parsed intake rows
type Registrar interface {
	BulkRegisterDevices(ctx context.Context, actor models.Actor, rows []models.CreateDeviceRequest) (*workflow.BulkResult, error)
}

// ImportsHandler handles Excel device intake
type ImportsHandler struct {
	Registrar   Registrar
	Logger      *slog.Logger
	MaxBytes    int64
	MappingPath string
}

// ImportFailure is a row that was parsed but rejected at registration
type ImportFailure struct {
	Sheet        string `json:"sheet"`
	Row          int    `json:"row"`
	SerialNumber string `json:"serial_number"`
	Reason       string `json:"reason"`
}

// ImportResult is the body of a successful upload
type ImportResult struct {
	Summary    importer.Summary       `json:"summary"`
	DryRun     bool                   `json:"dry_run"`
	Registered []workflow.BulkSuccess `json:"registered"`
	Failed     []ImportFailure        `json:"failed"`
}

// NewImportsHandler creates a new imports handler. An empty mappingPath
// selects the importer's built-in mapping.
func NewImportsHandler(reg Registrar, mappingPath string, logger *slog.Logger) *ImportsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportsHandler{
		Registrar:   reg,
		Logger:      logger,
		MaxBytes:    20 << 20, // 20 MB
		MappingPath: mappingPath,
	}
}

// UploadExcel handles Excel file uploads for device intake
func (h *ImportsHandler) UploadExcel(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		badUpload(w, "INVALID_CONTENT_TYPE", "content-type must be multipart/form-data")
		return
	}
	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		badUpload(w, "INVALID_FORM", "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts, dryRun, err := h.uploadOptions(r)
	if err != nil {
		badUpload(w, "INVALID_FORM", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badUpload(w, "MISSING_FILE", "file is required: "+err.Error())
		return
	}
	defer file.Close()

	if !isXLSX(header) {
		badUpload(w, "UNSUPPORTED_FILE", "only .xlsx files are accepted")
		return
	}

	rows, sum, err := importer.ReadDevices(file, opts)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "IMPORT_FAILED",
			"details": err.Error(),
			"data":    sum,
		})
		return
	}

	result := ImportResult{
		Summary:    sum,
		DryRun:     dryRun,
		Registered: []workflow.BulkSuccess{},
		Failed:     []ImportFailure{},
	}
	if !dryRun && len(rows) > 0 {
		reqs := make([]models.CreateDeviceRequest, len(rows))
		for i, row := range rows {
			reqs[i] = row.Request
		}
		res, err := h.Registrar.BulkRegisterDevices(r.Context(), actor, reqs)
		if err != nil {
			status, code := apperr.HTTPStatus(err)
			auth.WriteError(w, status, code, err.Error())
			return
		}
		result.Registered = res.Successful
		for _, f := range res.Failed {
			row := rows[f.Index]
			result.Failed = append(result.Failed, ImportFailure{
				Sheet:        row.Sheet,
				Row:          row.Row,
				SerialNumber: f.Key,
				Reason:       f.Reason,
			})
		}
	}

	h.Logger.InfoContext(r.Context(), "excel import",
		"file", header.Filename,
		"parsed", sum.Parsed,
		"row_errors", sum.Errors,
		"registered", len(result.Registered),
		"rejected", len(result.Failed),
		"dry_run", dryRun,
		"user", actor.UserID,
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"data": result,
		"meta": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
		},
	})
}

// uploadOptions reads the dry_run and max_errors form fields
func (h *ImportsHandler) uploadOptions(r *http.Request) (importer.ImportOptions, bool, error) {
	opts := importer.ImportOptions{MappingPath: h.MappingPath, MaxErrors: importer.DefaultMaxErrors}
	dryRun := false
	if v := r.FormValue("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, false, fmt.Errorf("dry_run must be a boolean, got %q", v)
		}
		dryRun = b
	}
	if v := r.FormValue("max_errors"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, false, fmt.Errorf("max_errors must be a positive integer, got %q", v)
		}
		opts.MaxErrors = n
	}
	return opts, dryRun, nil
}

func badUpload(w http.ResponseWriter, code, message string) {
	auth.WriteError(w, http.StatusBadRequest, code, message)
}

// isXLSX checks if the uploaded file is an Excel .xlsx file
func isXLSX(h *multipart.FileHeader) bool {
	return strings.HasSuffix(strings.ToLower(h.Filename), ".xlsx")
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
