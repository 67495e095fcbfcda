package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/docutag/curator"
	"github.com/docutag/curator/insights"
	"github.com/docutag/curator/internal/testsupport"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/realtime"
	"github.com/docutag/curator/storage"
)

const (
	testSecret     = "test-jwt-secret"
	testServiceKey = "test-service-key"
	alice          = "alice"
	bob            = "bob"
)

const analysisReply = `{"title":"Structured Concurrency","summary":"Scopes own goroutines.","tags":["go","concurrency"],"key_takeaways":["Tie lifetimes to scopes"],"source_type":"web"}`

type noThumbnails struct{}

func (noThumbnails) Extract(ctx context.Context, rawURL, hint string) (string, bool) {
	return "", false
}

type testEnv struct {
	server  *Server
	handler http.Handler
	store   *testsupport.MemoryStore
	bus     *realtime.LocalBus
	model   *testsupport.FakeModel
	storage *storage.Storage
	auth    *Authenticator
}

func newTestEnv(t *testing.T, configure func(*Config)) *testEnv {
	t.Helper()

	store := testsupport.NewMemoryStore()
	bus := realtime.NewLocalBus()
	t.Cleanup(func() { bus.Close() })
	model := testsupport.NewFakeModel(t, testsupport.Reply(analysisReply))

	files, err := storage.New(storage.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	orchestrator := curator.New(curator.DefaultConfig(), curator.Dependencies{
		Store:      store,
		Fetcher:    curator.NewFetcher(curator.DefaultFetcherConfig(), files),
		Analyzer:   model.Client(),
		Thumbnails: noThumbnails{},
		Notifier:   bus,
	})

	config := DefaultConfig()
	config.JWTSecret = testSecret
	config.ServiceKey = testServiceKey
	if configure != nil {
		configure(&config)
	}

	server, err := NewServer(config, Dependencies{
		Store:      store,
		Processor:  orchestrator,
		Thumbnails: noThumbnails{},
		Insights:   insights.New(store, model.Client()),
		Bus:        bus,
		Storage:    files,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	return &testEnv{
		server:  server,
		handler: server.Handler(),
		store:   store,
		bus:     bus,
		model:   model,
		storage: files,
		auth:    NewAuthenticator(testSecret, ""),
	}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.auth.IssueToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// drain waits for background enrichments
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	paragraph := strings.Repeat("Structured concurrency keeps goroutine lifetimes tied to the scope that started them. ", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><body><article><p>"+paragraph+"</p></article></body></html>")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedPending(t *testing.T, store *testsupport.MemoryStore, userID, rawURL string) *models.ContentItem {
	t.Helper()
	item := curator.NewPendingItem(userID, rawURL, "")
	if err := store.CreateContent(context.Background(), item); err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	return item
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode[map[string]any](t, rec); body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/health", "", nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "curator_http_requests_total") {
		t.Errorf("metrics missing request counter: %d", rec.Code)
	}
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, nil)
	expired, _ := env.auth.IssueToken(alice, -time.Minute)
	foreign, _ := NewAuthenticator("other-secret", "").IssueToken(alice, time.Hour)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"expired", expired, http.StatusUnauthorized},
		{"wrong secret", foreign, http.StatusUnauthorized},
		{"user token", env.token(t, alice), http.StatusOK},
		{"service key without user", testServiceKey, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodGet, "/api/content", tt.token, nil); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/content", nil)
	req.Header.Set("Authorization", "Bearer "+testServiceKey)
	req.Header.Set(HeaderUserID, alice)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("service key acting for a user: status = %d", rec.Code)
	}
}

func TestPrincipalUserFor(t *testing.T) {
	tests := []struct {
		name      string
		principal Principal
		requested string
		want      string
		wantErr   error
	}{
		{"user defaults to self", Principal{UserID: alice}, "", alice, nil},
		{"user names self", Principal{UserID: alice}, alice, alice, nil},
		{"user names other", Principal{UserID: alice}, bob, "", errForbidden},
		{"service names user", Principal{Service: true}, bob, bob, nil},
		{"service header user", Principal{Service: true, UserID: alice}, "", alice, nil},
		{"service without user", Principal{Service: true}, "", "", errNoUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.principal.UserFor(tt.requested)
			if err != tt.wantErr || got != tt.want {
				t.Errorf("UserFor(%q) = %q, %v; want %q, %v", tt.requested, got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestProcessEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	page := pageServer(t)
	item := seedPending(t, env.store, alice, page.URL+"/structured")

	rec := env.do(t, http.MethodPost, "/api/process", env.token(t, alice), models.ProcessRequest{
		URL: item.URL, UserID: alice, ContentID: item.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[models.ProcessResponse](t, rec)
	if !resp.Success || resp.Result == nil || resp.Result.Title != "Structured Concurrency" {
		t.Errorf("unexpected response %+v", resp)
	}

	got, _ := env.store.GetContent(context.Background(), alice, item.ID)
	if got.ProcessingStatus != models.StatusCompleted {
		t.Errorf("status = %s", got.ProcessingStatus)
	}

	t.Run("terminal item conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/process", env.token(t, alice), models.ProcessRequest{
			URL: item.URL, UserID: alice, ContentID: item.ID,
		})
		if rec.Code != http.StatusConflict || decode[models.ProcessResponse](t, rec).Success {
			t.Errorf("status = %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("missing parameters", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/process", env.token(t, alice), models.ProcessRequest{URL: item.URL})
		resp := decode[models.ProcessResponse](t, rec)
		if rec.Code != http.StatusBadRequest || resp.Success || !strings.Contains(resp.Error, "missing required parameters") {
			t.Errorf("status = %d: %+v", rec.Code, resp)
		}
	})

	t.Run("other user", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/process", env.token(t, bob), models.ProcessRequest{
			URL: item.URL, UserID: alice, ContentID: item.ID,
		})
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("service key", func(t *testing.T) {
		other := seedPending(t, env.store, bob, page.URL+"/other")
		rec := env.do(t, http.MethodPost, "/api/process", testServiceKey, models.ProcessRequest{
			URL: other.URL, UserID: bob, ContentID: other.ID,
		})
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("model failure", func(t *testing.T) {
		env.model.SetResponder(func(testsupport.ModelCall) (int, string) { return http.StatusInternalServerError, "boom" })
		failing := seedPending(t, env.store, alice, page.URL+"/failing")
		rec := env.do(t, http.MethodPost, "/api/process", env.token(t, alice), models.ProcessRequest{
			URL: failing.URL, UserID: alice, ContentID: failing.ID,
		})
		if rec.Code != http.StatusInternalServerError || decode[models.ProcessResponse](t, rec).Error == "" {
			t.Errorf("status = %d: %s", rec.Code, rec.Body.String())
		}
		got, _ := env.store.GetContent(context.Background(), alice, failing.ID)
		if got.ProcessingStatus != models.StatusFailed {
			t.Errorf("status = %s", got.ProcessingStatus)
		}
	})
}

func TestThumbnailEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, alice)

	rec := env.do(t, http.MethodPost, "/api/thumbnail", token, models.ThumbnailRequest{URL: "https://example.com/a"})
	resp := decode[models.ThumbnailResponse](t, rec)
	if rec.Code != http.StatusOK || !resp.Success || resp.ThumbnailURL != "" {
		t.Errorf("no thumbnail should still succeed: %d %+v", rec.Code, resp)
	}

	rec = env.do(t, http.MethodPost, "/api/thumbnail", token, models.ThumbnailRequest{})
	if rec.Code != http.StatusBadRequest || decode[models.ThumbnailResponse](t, rec).Success {
		t.Errorf("missing url: %d %s", rec.Code, rec.Body.String())
	}
}

func TestInsightsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/insights", env.token(t, alice), models.InsightsRequest{})
	if rec.Code != http.StatusOK || decode[models.InsightsResponse](t, rec).Insights != insights.NoContentMessage {
		t.Errorf("empty library: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/insights", testServiceKey, models.InsightsRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("service call without user: %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/insights", env.token(t, alice), models.InsightsRequest{UserID: bob})
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign user: %d", rec.Code)
	}

	env.store.Put(&models.ContentItem{ID: "c1", UserID: alice, Title: "Go", Tags: []string{"go"}, ProcessingStatus: models.StatusCompleted})
	env.model.SetResponder(func(testsupport.ModelCall) (int, string) { return http.StatusServiceUnavailable, "down" })

	rec = env.do(t, http.MethodPost, "/api/insights", testServiceKey, models.InsightsRequest{UserID: alice})
	resp := decode[models.InsightsResponse](t, rec)
	if rec.Code != http.StatusInternalServerError || resp.Insights != insights.UnavailableMessage || resp.Error == "" {
		t.Errorf("model failure: %d %+v", rec.Code, resp)
	}
	if resp.Patterns == nil || resp.Topics == nil {
		t.Error("expected empty arrays in error body")
	}
}

func TestCreateContentEnrichesInBackground(t *testing.T) {
	env := newTestEnv(t, nil)
	page := pageServer(t)

	changes, cancel, err := env.bus.Subscribe(context.Background(), alice)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	rec := env.do(t, http.MethodPost, "/api/content", env.token(t, alice), CreateContentRequest{
		URL:   page.URL + "/article",
		Notes: "  read later ",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[models.ContentItem](t, rec)
	if created.Title != models.PlaceholderTitle || created.ProcessingStatus != models.StatusPending {
		t.Errorf("created = %+v", created)
	}
	if created.ContentText != "read later" || created.UserID != alice {
		t.Errorf("created = %+v", created)
	}

	select {
	case c := <-changes:
		if c.Op != realtime.OpInsert || c.RowID != created.ID {
			t.Errorf("first change = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an insert notification")
	}

	env.drain(t)

	got, err := env.store.GetContent(context.Background(), alice, created.ID)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if got.ProcessingStatus != models.StatusCompleted || got.Title != "Structured Concurrency" {
		t.Errorf("after enrichment: %s %q", got.ProcessingStatus, got.Title)
	}
}

func TestCreateContentValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, raw := range []string{"", "not a url", "ftp://example.com/file", "document://documents/x.md"} {
		rec := env.do(t, http.MethodPost, "/api/content", env.token(t, alice), CreateContentRequest{URL: raw})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("url %q: status = %d", raw, rec.Code)
		}
	}
}

func uploadRequest(t *testing.T, token, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	part.Write(data)
	mw.WriteField("notes", "uploaded")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/content/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadDocument(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxUploadBytes = 4096 })
	token := env.token(t, alice)
	doc := []byte("# Field Notes\n\n" + strings.Repeat("Channels coordinate goroutines without shared memory. ", 12))

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, uploadRequest(t, token, "Field Notes.md", "application/octet-stream", doc))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[models.ContentItem](t, rec)
	if !strings.HasPrefix(created.URL, curator.DocumentScheme+storage.DocumentsPrefix+"/") || !strings.HasSuffix(created.URL, "field-notes.md") {
		t.Errorf("url = %q", created.URL)
	}
	if created.Source != models.SourceDocument {
		t.Errorf("source = %q", created.Source)
	}

	key := strings.TrimPrefix(created.URL, curator.DocumentScheme)
	if stored, err := env.storage.Read(context.Background(), key); err != nil || !bytes.Equal(stored, doc) {
		t.Errorf("stored document mismatch: %v", err)
	}

	env.drain(t)
	got, _ := env.store.GetContent(context.Background(), alice, created.ID)
	if got.ProcessingStatus != models.StatusCompleted {
		t.Errorf("status = %s", got.ProcessingStatus)
	}
	if calls := env.model.Calls(); len(calls) != 1 || calls[0].WebSearch || !strings.Contains(calls[0].Prompt, "Channels coordinate goroutines") {
		t.Errorf("document text should be analyzed directly: %+v", calls)
	}

	t.Run("deleting removes the document", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/content/"+created.ID, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if _, err := env.storage.Read(context.Background(), key); err != storage.ErrNotFound {
			t.Errorf("document still readable: %v", err)
		}
	})
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxUploadBytes = 1024 })
	token := env.token(t, alice)

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		want        int
	}{
		{"too large", "big.txt", "text/plain", bytes.Repeat([]byte("a"), 2048), http.StatusRequestEntityTooLarge},
		{"image", "photo.png", "image/png", []byte("\x89PNG\r\n"), http.StatusUnsupportedMediaType},
		{"binary text", "notes.txt", "text/plain", []byte{0xff, 0xfe, 0xfd}, http.StatusUnsupportedMediaType},
		{"empty", "empty.txt", "text/plain", nil, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, uploadRequest(t, token, tt.filename, tt.contentType, tt.data))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestListContent(t *testing.T) {
	env := newTestEnv(t, nil)
	now := time.Now().UTC()
	seed := func(id string, status models.ProcessingStatus, favorite bool, age time.Duration) {
		env.store.Put(&models.ContentItem{
			ID: id, UserID: alice, Title: "Item " + id, URL: "https://example.com/" + id,
			Source: models.SourceWeb, Tags: []string{}, KeyTakeaways: []string{},
			ProcessingStatus: status, IsFavorite: favorite, CreatedAt: now.Add(-age),
		})
	}
	seed("a", models.StatusCompleted, true, time.Hour)
	seed("b", models.StatusCompleted, false, 10*24*time.Hour)
	seed("c", models.StatusPending, false, 2*time.Hour)
	seed("d", models.StatusFailed, false, 3*time.Hour)
	env.store.Put(&models.ContentItem{ID: "z", UserID: bob, ProcessingStatus: models.StatusCompleted, CreatedAt: now})

	type page struct {
		Data   []models.ContentItem `json:"data"`
		Total  int                  `json:"total"`
		Limit  int                  `json:"limit"`
		Offset int                  `json:"offset"`
	}

	tests := []struct {
		query     string
		wantTotal int
		wantFirst string
	}{
		{"", 4, "a"},
		{"?filter=completed", 2, "a"},
		{"?filter=processing", 1, "c"},
		{"?filter=favorites", 1, "a"},
		{"?filter=recent", 3, "a"},
		{"?filter=failed", 1, "d"},
		{"?q=item%20b", 1, "b"},
		{"?limit=1&offset=1", 4, "c"},
	}
	token := env.token(t, alice)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/content"+tt.query, token, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			got := decode[page](t, rec)
			if got.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", got.Total, tt.wantTotal)
			}
			if len(got.Data) == 0 || got.Data[0].ID != tt.wantFirst {
				t.Errorf("first = %+v, want %s", got.Data, tt.wantFirst)
			}
		})
	}

	if got := decode[page](t, env.do(t, http.MethodGet, "/api/content?limit=500", token, nil)); got.Limit != maxPageSize {
		t.Errorf("limit = %d, want clamp to %d", got.Limit, maxPageSize)
	}
	for _, bad := range []string{"?filter=archived", "?source=myspace", "?limit=ten", "?offset=-1"} {
		if rec := env.do(t, http.MethodGet, "/api/content"+bad, token, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", bad, rec.Code)
		}
	}
}

func TestGetAndFavoriteContent(t *testing.T) {
	env := newTestEnv(t, nil)
	item := seedPending(t, env.store, alice, "https://example.com/fav")
	token := env.token(t, alice)

	if rec := env.do(t, http.MethodGet, "/api/content/"+item.ID, token, nil); rec.Code != http.StatusOK {
		t.Errorf("get: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/content/"+item.ID, env.token(t, bob), nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign get: %d", rec.Code)
	}

	first := decode[models.ContentItem](t, env.do(t, http.MethodPost, "/api/content/"+item.ID+"/favorite", token, nil))
	second := decode[models.ContentItem](t, env.do(t, http.MethodPost, "/api/content/"+item.ID+"/favorite", token, nil))
	if !first.IsFavorite || second.IsFavorite {
		t.Errorf("toggle twice: %v then %v", first.IsFavorite, second.IsFavorite)
	}

	if rec := env.do(t, http.MethodPost, "/api/content/missing/favorite", token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing favorite: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/content/"+item.ID, env.token(t, bob), nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign delete: %d", rec.Code)
	}
}

func TestCollections(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, alice)
	a := seedPending(t, env.store, alice, "https://example.com/a")
	b := seedPending(t, env.store, alice, "https://example.com/b")
	foreign := seedPending(t, env.store, bob, "https://example.com/z")

	if rec := env.do(t, http.MethodPost, "/api/collections", token, CreateCollectionRequest{Name: "  "}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty name: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/collections", token, CreateCollectionRequest{Name: "x", Color: "purple"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad color: %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/collections", token, CreateCollectionRequest{Name: "Reading"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	c := decode[models.Collection](t, rec)
	if c.Color != models.DefaultCollectionColor {
		t.Errorf("color = %q", c.Color)
	}
	base := "/api/collections/" + c.ID + "/items"

	added := decode[map[string]int](t, env.do(t, http.MethodPost, base, token, AddItemsRequest{ContentIDs: []string{a.ID, b.ID, foreign.ID}}))
	if added["added"] != 2 {
		t.Errorf("added = %d, want 2", added["added"])
	}
	again := decode[map[string]int](t, env.do(t, http.MethodPost, base, token, AddItemsRequest{ContentIDs: []string{a.ID}}))
	if again["added"] != 0 {
		t.Errorf("re-adding should be a no-op, added = %d", again["added"])
	}

	list := decode[[]models.Collection](t, env.do(t, http.MethodGet, "/api/collections", token, nil))
	if len(list) != 1 || list[0].ItemCount != 2 {
		t.Errorf("collections = %+v", list)
	}

	items := decode[[]models.ContentItem](t, env.do(t, http.MethodGet, base, token, nil))
	if len(items) != 2 {
		t.Errorf("items = %d", len(items))
	}

	if rec := env.do(t, http.MethodDelete, base+"/"+a.ID, token, nil); rec.Code != http.StatusOK {
		t.Errorf("remove: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, base+"/"+a.ID, token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("remove twice: %d", rec.Code)
	}

	if rec := env.do(t, http.MethodGet, base, env.token(t, bob), nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign items: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/collections/"+c.ID, env.token(t, bob), nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign delete: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/collections/"+c.ID, token, nil); rec.Code != http.StatusOK {
		t.Errorf("delete: %d", rec.Code)
	}
	if list := decode[[]models.Collection](t, env.do(t, http.MethodGet, "/api/collections", token, nil)); len(list) != 0 {
		t.Errorf("collections after delete = %+v", list)
	}
}

func TestChangesStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/changes?access_token="+env.token(t, alice), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/changes: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || lines.Text() != ": connected" {
		t.Fatalf("expected connected comment, got %q", lines.Text())
	}

	env.bus.Publish(context.Background(), realtime.NewChange(bob, realtime.TableContent, realtime.OpUpdate, "not-mine"))
	env.bus.Publish(context.Background(), realtime.NewChange(alice, realtime.TableContent, realtime.OpUpdate, "mine"))

	var event, data string
	for lines.Scan() {
		line := lines.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	if event != "change" {
		t.Errorf("event = %q", event)
	}
	var change realtime.Change
	if err := json.Unmarshal([]byte(data), &change); err != nil || change.RowID != "mine" {
		t.Errorf("change = %+v (%v)", change, err)
	}
}

func TestServeThumbnail(t *testing.T) {
	env := newTestEnv(t, nil)
	key, err := env.storage.SaveImage(context.Background(), []byte("png-bytes"), "cover", "image/png")
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	docKey, _ := env.storage.SaveDocument(context.Background(), []byte("secret"), "private", "text/plain")

	rec := env.do(t, http.MethodGet, "/api/thumbnails/"+key, "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "png-bytes" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}

	for _, path := range []string{"/api/thumbnails/" + docKey, "/api/thumbnails/thumbnails/missing.png", "/api/thumbnails/thumbnails/../" + docKey} {
		if rec := env.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}
