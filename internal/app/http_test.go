package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskmark/api/internal/export"
	"taskmark/api/internal/identity"
	"taskmark/api/internal/note"
	"taskmark/api/internal/search"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	local := newFakeLocal()
	service := New(testConfig(), local, nil, nil, identity.ContextProvider{Fallback: "local"})
	if err := service.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(service.Close)

	searcher := search.NewService(nil)
	service.SetIndexer(searcher)

	httpServer := NewHTTPServer(service, export.NewService(), searcher, "*")
	ts := httptest.NewServer(httpServer.Handler())
	t.Cleanup(ts.Close)
	return ts, service
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ok, _ := body["ok"].(bool); !ok {
		t.Errorf("body = %v", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/ready", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["mode"] != "LOCAL" {
		t.Errorf("mode = %v", body["mode"])
	}
}

func TestNoteLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	// Create
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/notes", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created, _ := body["note"].(map[string]any)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("no id in create response: %v", body)
	}

	// Update with a raw editor payload; unknown keys must be stripped.
	resp, body = doJSON(t, http.MethodPut, ts.URL+"/api/notes/"+id+"?sync=true", map[string]any{
		"title": "My Note",
		"blocks": []any{
			map[string]any{
				"type":    "paragraph",
				"content": []any{map[string]any{"type": "text", "text": "hello world"}},
				"node":    map[string]any{"host": "internal"},
			},
		},
		"tags": []string{"Work"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d: %v", resp.StatusCode, body)
	}
	saved, _ := body["note"].(map[string]any)
	if saved["title"] != "My Note" {
		t.Errorf("title = %v", saved["title"])
	}
	blocks, _ := saved["blocks"].([]any)
	if len(blocks) != 1 {
		t.Fatalf("blocks = %v", saved["blocks"])
	}
	if _, hasNode := blocks[0].(map[string]any)["node"]; hasNode {
		t.Errorf("host state leaked through the sanitizer")
	}
	tags, _ := saved["tags"].([]any)
	if len(tags) != 1 || tags[0] != "work" {
		t.Errorf("tags = %v", tags)
	}

	// Read back
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/notes/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// Stats
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/notes/"+id+"/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	stats, _ := body["stats"].(map[string]any)
	if words, _ := stats["words"].(float64); words != 2 {
		t.Errorf("words = %v", stats["words"])
	}

	// Delete, then undo.
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/notes/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/trash", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("trash status = %d", resp.StatusCode)
	}
	trashed, _ := body["notes"].([]any)
	if len(trashed) != 1 {
		t.Fatalf("trash = %v", body)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/notes/undo", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("undo status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/notes/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("note should be active again after undo, status = %d", resp.StatusCode)
	}
}

func TestTitleOnlyUpdateKeepsDocument(t *testing.T) {
	ts, service := newTestServer(t)

	n, err := service.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	n.Blocks = []note.Block{{Type: "paragraph", Content: []note.InlineSpan{{Type: "text", Text: "precious content"}}}}
	if err := service.SaveNow(context.Background(), n); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}

	// A rename sends only the title; the stored document must survive.
	resp, body := doJSON(t, http.MethodPut, ts.URL+"/api/notes/"+n.ID+"?sync=true", map[string]any{
		"title": "renamed",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d: %v", resp.StatusCode, body)
	}
	saved, _ := service.Get(n.ID)
	if saved.Title != "renamed" {
		t.Errorf("title = %q", saved.Title)
	}
	if note.FlatText(saved.Blocks) != "precious content" {
		t.Errorf("document wiped by a title-only update: %q", note.FlatText(saved.Blocks))
	}
}

func TestGetUnknownNote(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/notes/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestModeEndpointValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/mode", nil)
	if resp.StatusCode != http.StatusOK || body["mode"] != "LOCAL" {
		t.Fatalf("get mode = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPut, ts.URL+"/api/mode", map[string]any{"mode": "sideways"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid mode status = %d: %v", resp.StatusCode, body)
	}

	// Cloud mode without a configured remote store is rejected.
	resp, body = doJSON(t, http.MethodPut, ts.URL+"/api/mode", map[string]any{"mode": "cloud"})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "CLOUD_DISABLED" {
		t.Errorf("cloud without remote = %d %v", resp.StatusCode, body)
	}
}

func TestTagEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, ts.URL+"/api/notes", nil)
	created, _ := body["note"].(map[string]any)
	id, _ := created["id"].(string)

	for _, tag := range []string{"a", "b", "c", "d", "e"} {
		_, body = doJSON(t, http.MethodPost, ts.URL+"/api/notes/"+id+"/tags", map[string]any{"tag": tag})
	}
	tags, _ := body["tags"].([]any)
	if len(tags) != 4 {
		t.Errorf("tag cap not enforced over HTTP: %v", tags)
	}

	resp, body := doJSON(t, http.MethodDelete, ts.URL+"/api/notes/"+id+"/tags/a", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete tag status = %d", resp.StatusCode)
	}
	tags, _ = body["tags"].([]any)
	if len(tags) != 3 {
		t.Errorf("tags after delete = %v", tags)
	}
}

func TestSelectionEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, ts.URL+"/api/notes", nil)
	created, _ := body["note"].(map[string]any)
	id, _ := created["id"].(string)

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/selection", map[string]any{"id": id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/selection", map[string]any{"id": "ghost"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("selecting unknown note = %d", resp.StatusCode)
	}
}

func TestExportImportEndpoints(t *testing.T) {
	ts, service := newTestServer(t)

	if _, err := service.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	var exported []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&exported); err != nil {
		t.Fatalf("export payload: %v", err)
	}
	if len(exported) != 1 {
		t.Fatalf("exported %d notes", len(exported))
	}

	importResp, err := http.Post(ts.URL+"/api/import", "application/json", strings.NewReader(`[]`))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	defer importResp.Body.Close()
	if importResp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d", importResp.StatusCode)
	}
	if len(service.ListActive()) != 0 {
		t.Errorf("import of [] should clear the collection")
	}
}

func TestNoteHTMLExportEndpoint(t *testing.T) {
	ts, service := newTestServer(t)

	n, err := service.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	n.Title = "Export Me"
	if err := service.SaveNow(context.Background(), n); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{"format": "html"})
	resp, err := http.Post(ts.URL+"/api/notes/"+n.ID+"/export", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "Export-Me.html") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// Unsupported format is a validation error.
	payload, _ = json.Marshal(map[string]any{"format": "docx"})
	badResp, err := http.Post(ts.URL+"/api/notes/"+n.ID+"/export", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad format status = %d", badResp.StatusCode)
	}
}

func TestSearchEndpoint(t *testing.T) {
	ts, service := newTestServer(t)

	n, err := service.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	n.Title = "Meeting notes"
	n.Blocks = []note.Block{{Type: "paragraph", Content: []note.InlineSpan{{Type: "text", Text: "quarterly planning agenda"}}}}
	if err := service.SaveNow(context.Background(), n); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/search?q=quarterly", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d", resp.StatusCode)
	}
	results, _ := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %v", body)
	}
	hit, _ := results[0].(map[string]any)
	if hit["id"] != n.ID {
		t.Errorf("hit = %v", hit)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/search?q=x&limit=bogus", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid limit status = %d", resp.StatusCode)
	}
}

func TestRequestIDAndCORSHeaders(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Errorf("missing X-Request-ID")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS origin header")
	}
}
