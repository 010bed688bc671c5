package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/manifestsync/internal/config"
	"github.com/JonMunkholm/manifestsync/internal/core"
	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store/sqlite"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 30 * time.Second},
		Upload: config.UploadConfig{MaxFileSize: 10 << 20},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	backend, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "web.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	svc := core.NewService(backend, core.Options{
		MaxFileSize: cfg.Upload.MaxFileSize,
		InboxDir:    cfg.Upload.InboxDir,
	})
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

// row builds Fields from header/value pairs.
func row(kv ...string) manifest.Fields {
	var f manifest.Fields
	for i := 0; i+1 < len(kv); i += 2 {
		col, ok := manifest.LookupColumn(kv[i])
		if !ok {
			panic("unknown column " + kv[i])
		}
		f[col] = kv[i+1]
	}
	return f
}

func manifestCSV(t *testing.T, rows ...manifest.Fields) []byte {
	t.Helper()
	records := make([]manifest.Record, len(rows))
	for i, f := range rows {
		records[i] = manifest.Record{Fields: f}
	}
	var buf bytes.Buffer
	if err := manifest.WriteCSV(&buf, records); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	return buf.Bytes()
}

func do(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, name string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	part.Write(body)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func upload(t *testing.T, srv *Server, name string, rows ...manifest.Fields) IngestResponse {
	t.Helper()
	rec := do(t, srv, uploadRequest(t, name, manifestCSV(t, rows...)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/uploads status = %d, body = %s", rec.Code, rec.Body)
	}
	var res IngestResponse
	decode(t, rec, &res)
	return res
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, srv, httptest.NewRequest(http.MethodGet, path, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestUploadFlow(t *testing.T) {
	srv := newTestServer(t, nil)

	first := upload(t, srv, "day1.csv",
		row("CONTAINER", "C1", "HB", "H1"),
		row("CONTAINER", "C2", "HB", "H2"),
	)
	if first.Written != 2 || first.Added != 2 {
		t.Fatalf("first upload = %+v, want 2 written and added", first)
	}
	second := upload(t, srv, "day2.csv",
		row("CONTAINER", "C1", "HB", "H1", "FRL", "2024-05-01"),
		row("CONTAINER", "C3", "HB", "H3"),
		row("CONTAINER", "C4"),
	)
	if second.Added != 1 || second.Updated != 1 || second.Keyless != 1 {
		t.Fatalf("second upload = %+v, want 1 added, 1 updated, 1 keyless", second)
	}
	id := second.Upload.ID

	t.Run("list uploads", func(t *testing.T) {
		rec := get(t, srv, "/api/uploads")
		var body struct {
			Uploads []manifest.Upload `json:"uploads"`
		}
		decode(t, rec, &body)
		if len(body.Uploads) != 2 || body.Uploads[0].ID != id {
			t.Errorf("uploads = %+v, want newest first", body.Uploads)
		}
	})

	t.Run("get upload", func(t *testing.T) {
		rec := get(t, srv, "/api/uploads/"+id)
		var u manifest.Upload
		decode(t, rec, &u)
		if u.FileName != "day2.csv" || u.RecordCount != 3 {
			t.Errorf("upload = %+v", u)
		}
	})

	t.Run("diff", func(t *testing.T) {
		rec := get(t, srv, "/api/uploads/"+id+"/diff")
		var d core.DiffCounts
		decode(t, rec, &d)
		if d.New != 1 || d.Updated != 1 || d.Removed != 1 || d.Keyless != 1 {
			t.Errorf("diff = %+v, want 1 new, 1 updated, 1 removed, 1 keyless", d)
		}
		if d.PreviousUploadID != first.Upload.ID {
			t.Errorf("previous = %q, want %q", d.PreviousUploadID, first.Upload.ID)
		}
	})

	t.Run("stats", func(t *testing.T) {
		rec := get(t, srv, "/api/uploads/"+id+"/stats")
		var st core.Stats
		decode(t, rec, &st)
		if st.Records != 3 || st.WithFRL != 1 || st.MasterSize != 3 {
			t.Errorf("stats = %+v", st)
		}
	})

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "latest snapshot", query: "", want: []string{"C1", "C3", "C4"}},
		{name: "new", query: "?filter=new", want: []string{"C3"}},
		{name: "removed", query: "?filter=removed", want: []string{"C2"}},
		{name: "with frl", query: "?filter=with-frl", want: []string{"C1"}},
		{name: "master", query: "?mode=master", want: []string{"C1", "C2", "C3"}},
		{name: "master search", query: "?mode=master&q=c3&field=CONTAINER", want: []string{"C3"}},
		{name: "first upload", query: "?upload=" + first.Upload.ID, want: []string{"C1", "C2"}},
	}
	for _, tt := range tests {
		t.Run("records "+tt.name, func(t *testing.T) {
			rec := get(t, srv, "/api/records"+tt.query)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			var body RecordsResponse
			decode(t, rec, &body)
			var got []string
			for _, r := range body.Records {
				got = append(got, r.Fields["container"])
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("containers = %v, want %v", got, tt.want)
			}
			if body.Count != len(tt.want) {
				t.Errorf("count = %d, want %d", body.Count, len(tt.want))
			}
		})
	}

	t.Run("export csv", func(t *testing.T) {
		rec := get(t, srv, "/api/export?mode=master")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Header().Get("Content-Disposition"), ".csv") {
			t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
		}
		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		if len(lines) != 4 || !strings.HasPrefix(lines[0], "CONTAINER,SEAL #") {
			t.Errorf("export = %q", rec.Body.String())
		}
	})

	t.Run("export xlsx", func(t *testing.T) {
		rec := get(t, srv, "/api/export?format=xlsx")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
			t.Errorf("xlsx body does not look like a zip archive")
		}
	})

	t.Run("delete", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/uploads/"+first.Upload.ID, nil)
		if rec := do(t, srv, req); rec.Code != http.StatusNoContent {
			t.Fatalf("DELETE status = %d, body = %s", rec.Code, rec.Body)
		}
		if rec := get(t, srv, "/api/uploads/"+first.Upload.ID); rec.Code != http.StatusNotFound {
			t.Errorf("GET after delete status = %d, want 404", rec.Code)
		}
		rec := get(t, srv, "/api/records?mode=master")
		var body RecordsResponse
		decode(t, rec, &body)
		if body.Count != 3 {
			t.Errorf("master size after delete = %d, want 3", body.Count)
		}
	})
}

func TestDuplicatesEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	upload(t, srv, "dup.csv",
		row("CONTAINER", "C1", "HB", "H1"),
		row("CONTAINER", "C1", "HB", "H2"),
		row("CONTAINER", "C2", "HB", "H2"),
	)

	rec := get(t, srv, "/api/duplicates")
	var report core.DuplicateReport
	decode(t, rec, &report)
	if strings.Join(report.HB, ",") != "H2" || strings.Join(report.Container, ",") != "C1" {
		t.Errorf("duplicates = %+v, want HB [H2] and CONTAINER [C1]", report)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		cfg      func(*config.Config)
		req      func(t *testing.T) *http.Request
		wantCode int
		wantErr  string
	}{
		{
			name:     "unknown upload",
			req:      func(t *testing.T) *http.Request { return httptest.NewRequest(http.MethodGet, "/api/uploads/nope", nil) },
			wantCode: http.StatusNotFound,
			wantErr:  "UPL003",
		},
		{
			name: "unknown filter",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/records?filter=bogus", nil)
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "QRY001",
		},
		{
			name: "unknown export format",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/export?format=pdf", nil)
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "QRY001",
		},
		{
			name:     "no file",
			req:      func(t *testing.T) *http.Request { return httptest.NewRequest(http.MethodPost, "/api/uploads", nil) },
			wantCode: http.StatusBadRequest,
			wantErr:  "FILE004",
		},
		{
			name: "missing columns",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "bad.csv", []byte("CONTAINER,HB\nC1,H1\n"))
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "SCH001",
		},
		{
			name: "file too large",
			cfg:  func(c *config.Config) { c.Upload.MaxFileSize = 64 },
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "big.csv", manifestCSV(t, row("CONTAINER", "C1", "HB", "H1")))
			},
			wantCode: http.StatusRequestEntityTooLarge,
			wantErr:  "FILE001",
		},
		{
			name:     "inbox not configured",
			req:      func(t *testing.T) *http.Request { return httptest.NewRequest(http.MethodPost, "/api/inbox", nil) },
			wantCode: http.StatusConflict,
			wantErr:  "UPL005",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.cfg)
			rec := do(t, srv, tt.req(t))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantCode, rec.Body)
			}
			var body ErrorResponse
			decode(t, rec, &body)
			if body.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", body.Code, tt.wantErr)
			}
			if body.Message == "" {
				t.Error("message is empty")
			}
		})
	}
}

func TestErrorPartialForHTMX(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/records?mode=%3Cscript%3E", nil)
	req.Header.Set("HX-Request", "true")
	rec := do(t, srv, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `class="alert alert-error"`) || !strings.Contains(body, "QRY001") {
		t.Errorf("body = %q", body)
	}
	if strings.Contains(body, "<script>") {
		t.Errorf("body is not escaped: %q", body)
	}
}

func TestInboxEndpoint(t *testing.T) {
	dir := t.TempDir()
	srv := newTestServer(t, func(c *config.Config) { c.Upload.InboxDir = dir })

	if err := os.WriteFile(filepath.Join(dir, "a.csv"), manifestCSV(t, row("CONTAINER", "C1", "HB", "H1")), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.csv"), []byte("NOT,A,MANIFEST\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := do(t, srv, httptest.NewRequest(http.MethodPost, "/api/inbox", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var res core.DirResult
	decode(t, rec, &res)
	if len(res.Files) != 2 || res.Failed != 1 {
		t.Errorf("inbox result = %+v, want 2 files with 1 failure", res)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.Security.RequireAPIKey = true
		c.Security.APIKeys = []string{"secret"}
	})

	tests := []struct {
		name string
		key  string
		want int
	}{
		{name: "missing", key: "", want: http.StatusUnauthorized},
		{name: "invalid", key: "wrong", want: http.StatusForbidden},
		{name: "valid", key: "secret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			if rec := do(t, srv, req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if rec := get(t, srv, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200 without a key", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.Rate.Enabled = true
		c.Rate.RequestsPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		if rec := get(t, srv, "/api/uploads"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := get(t, srv, "/api/uploads")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var body ErrorResponse
	decode(t, rec, &body)
	if body.Code != "RATE001" {
		t.Errorf("code = %q, want RATE001", body.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.Security.CORSOrigins = []string{"https://ops.example.com"}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := do(t, srv, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = do(t, srv, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q for unlisted origin", got)
	}
}

func TestTemplateAndHealth(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) { c.Security.EnableCSP = true })

	rec := get(t, srv, "/api/template")
	if got := strings.TrimSpace(rec.Body.String()); got != strings.Join(manifest.Headers(), ",") {
		t.Errorf("template = %q", got)
	}

	rec = get(t, srv, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("Content-Security-Policy header missing")
	}
	var body struct {
		Status string            `json:"status"`
		Writer core.WriterStatus `json:"writer"`
	}
	decode(t, rec, &body)
	if body.Status != "ok" || body.Writer.MaxWriters != core.DefaultMaxWriters {
		t.Errorf("health = %+v", body)
	}
}
