package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskmark/api/internal/export"
	"taskmark/api/internal/identity"
	"taskmark/api/internal/note"
	"taskmark/api/internal/sanitize"
	"taskmark/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	exporter   *export.Service
	searcher   *search.Service
	corsOrigin string
}

func NewHTTPServer(service *Service, exporter *export.Service, searcher *search.Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, exporter: exporter, searcher: searcher, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// noteBody is the write payload. Blocks stays raw so the sanitizer decides
// what survives, not the JSON decoder.
type noteBody struct {
	Title  string   `json:"title"`
	Blocks any      `json:"blocks"`
	Tags   []string `json:"tags"`
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"storage": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["storage"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"mode":   s.service.Mode(),
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/mode" {
		writeJSON(w, http.StatusOK, map[string]any{"mode": s.service.Mode()})
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/mode" {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		trimmed := strings.TrimSpace(body.Mode)
		if !strings.EqualFold(trimmed, string(note.ModeLocal)) && !strings.EqualFold(trimmed, string(note.ModeCloud)) {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "mode must be 'local' or 'cloud'", nil)
			return
		}
		mode := note.ParseMode(trimmed)
		if err := s.service.SetMode(r.Context(), mode); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"mode": s.service.Mode()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notes" {
		writeJSON(w, http.StatusOK, map[string]any{
			"notes":      s.service.ListActive(),
			"selectedId": orNil(s.service.Selected()),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/notes" {
		created, err := s.service.Create(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"note": created})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/notes/undo" {
		if err := s.service.UndoLastDelete(r.Context()); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/trash" {
		writeJSON(w, http.StatusOK, map[string]any{
			"notes":       s.service.ListTrash(),
			"lastDeleted": s.service.LastDeleted(),
		})
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/selection" {
		var body struct {
			ID string `json:"id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Select(body.ID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selectedId": body.ID})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/export" {
		payload, err := s.service.Export()
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="notes.json"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/import" {
		defer r.Body.Close()
		payload, err := readAll(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		if err := s.service.Import(r.Context(), payload); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(s.service.ListActive())})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a positive integer", nil)
				return
			}
			limit = parsed
		}
		results, err := s.searcher.Search(r.Context(), q, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "notes" {
		s.handleNote(w, r, parts[2], parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "trash" {
		s.handleTrash(w, r, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleNote(w http.ResponseWriter, r *http.Request, noteID string, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodGet {
		n, err := s.service.Get(noteID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"note": n})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodPut {
		var body noteBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		existing, err := s.service.Get(noteID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		existing.Title = body.Title
		// Absent fields leave the stored value alone; a title-only update
		// must never wipe the document.
		if body.Blocks != nil {
			blocks, dropped := sanitize.Document(body.Blocks)
			if dropped > 0 {
				log.Printf("notes: sanitizer dropped %d values from request for note %s", dropped, noteID)
			}
			existing.Blocks = blocks
		}
		if body.Tags != nil {
			existing.Tags = body.Tags
		}

		if r.URL.Query().Get("sync") == "true" {
			if err := s.service.SaveNow(r.Context(), existing); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
		} else if err := s.service.Save(r.Context(), existing); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		saved, err := s.service.Get(noteID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"note": saved})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.Remove(r.Context(), noteID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":         true,
			"selectedId": orNil(s.service.Selected()),
		})
		return
	}

	if len(parts) == 4 && parts[3] == "stats" && r.Method == http.MethodGet {
		n, err := s.service.Get(noteID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stats": n.ComputeStats()})
		return
	}

	if len(parts) == 4 && parts[3] == "tags" && r.Method == http.MethodPost {
		var body struct {
			Tag string `json:"tag"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		n, err := s.service.Get(noteID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		n.AddTag(body.Tag)
		if err := s.service.SaveNow(r.Context(), n); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": n.Tags})
		return
	}

	if len(parts) == 5 && parts[3] == "tags" && r.Method == http.MethodDelete {
		n, err := s.service.Get(noteID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		n.RemoveTag(parts[4])
		if err := s.service.SaveNow(r.Context(), n); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": n.Tags})
		return
	}

	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodPost {
		var body struct {
			Format string `json:"format"` // "html" or "pdf"
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format := export.Format(body.Format)
		if format != export.FormatHTML && format != export.FormatPDF {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'html' or 'pdf'", nil)
			return
		}
		n, err := s.service.Get(noteID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		result, err := s.exporter.Export(r.Context(), n, format)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTrash(w http.ResponseWriter, r *http.Request, noteID string, parts []string) {
	if len(parts) == 4 && parts[3] == "restore" && r.Method == http.MethodPost {
		if err := s.service.Restore(r.Context(), noteID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.Purge(noteID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		if userID := strings.TrimSpace(r.Header.Get("X-User-ID")); userID != "" {
			ctx = identity.WithUser(ctx, userID)
		}
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func readAll(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func orNil(id string) any {
	if id == "" {
		return nil
	}
	return id
}
