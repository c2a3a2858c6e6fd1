package httphandler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/moodlink/internal/adapter/driving/http"
	"github.com/ericfisherdev/moodlink/internal/application"
	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

// --- Mock implementations ---

type mockStore struct {
	mu      sync.Mutex
	records map[string]*model.CredentialRecord
	err     error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*model.CredentialRecord)}
}

func (m *mockStore) Upsert(_ context.Context, userID, username, contact, secret string) (*model.CredentialRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		rec = &model.CredentialRecord{ID: int64(len(m.records) + 1), UserID: userID}
		m.records[userID] = rec
	}
	rec.Username, rec.Contact, rec.Secret = username, contact, secret
	cp := *rec
	return &cp, nil
}

func (m *mockStore) Get(_ context.Context, userID string) (*model.CredentialRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, model.NotFoundError("no credential for user %q", userID)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) MarkValidity(ctx context.Context, userID string, valid bool) (*model.CredentialRecord, error) {
	m.mu.Lock()
	if rec, ok := m.records[userID]; ok {
		rec.SessionValid = valid
	}
	m.mu.Unlock()
	return m.Get(ctx, userID)
}

func (m *mockStore) Delete(_ context.Context, userID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[userID]
	delete(m.records, userID)
	return ok, nil
}

type mockProvider struct {
	probeErr  error
	loginErr  error
	boards    []model.Collection
	boardsErr error
	pages     []model.ItemPage
}

func (p *mockProvider) Login(context.Context, model.CredentialRecord) error { return p.loginErr }
func (p *mockProvider) Probe(context.Context, string) error                 { return p.probeErr }
func (p *mockProvider) ListBoards(context.Context, string, string) ([]model.Collection, error) {
	return p.boards, p.boardsErr
}
func (p *mockProvider) BoardFeedPage(_ context.Context, _, _, cursor string) (model.ItemPage, error) {
	idx := 0
	if cursor != "" {
		idx = int(cursor[0] - '0')
	}
	if idx >= len(p.pages) {
		return model.ItemPage{}, nil
	}
	return p.pages[idx], nil
}
func (p *mockProvider) Forget(string) {}

type mockStaging struct{ err error }

func (s *mockStaging) Put(_ context.Context, filename string, _ []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "uploads/" + filename, nil
}

type mockEditor struct {
	uploadErr error
	editErr   error
	output    *model.EditOutput
	job       model.EditJob
}

func (e *mockEditor) Upload(context.Context, []byte, string, string) (string, error) {
	if e.uploadErr != nil {
		return "", e.uploadErr
	}
	return "https://cdn.example.com/in.png", nil
}

func (e *mockEditor) Edit(_ context.Context, job model.EditJob, onProgress func(model.ProgressEvent)) (*model.EditOutput, error) {
	e.job = job
	onProgress(model.ProgressEvent{Message: "working"})
	if e.editErr != nil {
		return nil, e.editErr
	}
	return e.output, nil
}

type mockPinger struct{ err error }

func (p mockPinger) Ping(context.Context) error { return p.err }

// --- Test helpers ---

var discard = slog.New(slog.DiscardHandler)

type fixture struct {
	store    *mockStore
	provider *mockProvider
	staging  *mockStaging
	editor   *mockEditor
}

func newFixture() *fixture {
	return &fixture{
		store:    newMockStore(),
		provider: &mockProvider{},
		staging:  &mockStaging{},
		editor:   &mockEditor{output: &model.EditOutput{}},
	}
}

func (f *fixture) mux(opts ...httphandler.Option) http.Handler {
	sessions := application.NewSessionManager(f.store, f.provider, discard,
		application.WithFeedLimits(application.FeedLimits{MaxPages: 3}))
	edits := application.NewEditOrchestrator(f.staging, f.editor, discard)
	h := httphandler.NewHandler(sessions, edits, discard, opts...)
	return httphandler.NewServeMux(h, discard)
}

func (f *fixture) seed(userID string) {
	f.store.records[userID] = &model.CredentialRecord{ID: 1, UserID: userID, Username: "pinner", Contact: "p@example.com", Secret: "pw", SessionValid: true}
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

// --- Tests ---

func TestConnect(t *testing.T) {
	tests := []struct {
		name        string
		loginErr    error
		wantSession string
	}{
		{name: "login succeeds", wantSession: "connected"},
		{name: "login fails", loginErr: errors.New("bad password"), wantSession: "expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.provider.loginErr = tt.loginErr

			rec := do(t, f.mux(), http.MethodPost, "/connections", httphandler.ConnectRequest{
				UserID: "u1", PinterestUsername: "pinner", PinterestEmail: "p@example.com", PinterestPassword: "hunter2",
			})

			require.Equal(t, http.StatusOK, rec.Code)
			raw := rec.Body.String()
			assert.NotContains(t, raw, "hunter2")
			assert.NotContains(t, raw, "p@example.com")

			var resp httphandler.ConnectResponse
			decodeJSON(t, rec, &resp)
			assert.Equal(t, "success", resp.Status)
			assert.Equal(t, "u1", resp.UserID)
			assert.Equal(t, "pinner", resp.PinterestUsername)
			assert.Equal(t, tt.wantSession, resp.SessionStatus)
			assert.Contains(t, f.store.records, "u1")
		})
	}
}

func TestConnect_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "malformed json", body: "{"},
		{name: "missing user", body: httphandler.ConnectRequest{PinterestUsername: "a", PinterestEmail: "b", PinterestPassword: "c"}},
		{name: "missing username", body: httphandler.ConnectRequest{UserID: "u", PinterestEmail: "b", PinterestPassword: "c"}},
		{name: "missing email", body: httphandler.ConnectRequest{UserID: "u", PinterestUsername: "a", PinterestPassword: "c"}},
		{name: "missing password", body: httphandler.ConnectRequest{UserID: "u", PinterestUsername: "a", PinterestEmail: "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rec := do(t, f.mux(), http.MethodPost, "/connections", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.store.records)
		})
	}
}

func TestConnect_StoreUnavailable(t *testing.T) {
	f := newFixture()
	f.store.err = model.StorageError("upsert credential", errors.New("disk I/O error"))

	rec := do(t, f.mux(), http.MethodPost, "/connections", httphandler.ConnectRequest{
		UserID: "u1", PinterestUsername: "a", PinterestEmail: "b", PinterestPassword: "c",
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "storage unavailable", resp["error"])
	assert.Equal(t, "storage_unavailable", resp["code"])
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name     string
		seeded   bool
		probeErr error
		loginErr error
		want     string
	}{
		{name: "no record", want: "disconnected"},
		{name: "probe ok", seeded: true, want: "connected"},
		{name: "probe fails", seeded: true, probeErr: errors.New("401"), want: "expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.seeded {
				f.seed("u1")
			}
			f.provider.probeErr = tt.probeErr

			rec := do(t, f.mux(), http.MethodGet, "/connections/status?user_id=u1", nil)

			require.Equal(t, http.StatusOK, rec.Code)
			var resp httphandler.StatusResponse
			decodeJSON(t, rec, &resp)
			assert.Equal(t, "u1", resp.UserID)
			assert.Equal(t, tt.want, resp.PinterestStatus)
		})
	}
}

func TestUserIDRequired(t *testing.T) {
	f := newFixture()
	mux := f.mux()
	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/connections/status"},
		{http.MethodGet, "/connections/collections?user_id=%20"},
		{http.MethodGet, "/connections/collections/b1/items"},
		{http.MethodDelete, "/connections"},
	} {
		rec := do(t, mux, tc.method, tc.target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.target)
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture()
	f.seed("u1")
	mux := f.mux()

	rec := do(t, mux, http.MethodDelete, "/connections?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.DisconnectResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Deleted)

	rec = do(t, mux, http.MethodDelete, "/connections?user_id=u1", nil)
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Deleted)
}

func TestListCollections(t *testing.T) {
	f := newFixture()
	f.seed("u1")
	f.provider.boards = []model.Collection{
		{ID: "b1", Name: "Living room", ItemCount: 12, Visibility: "public"},
		{ID: "b2", Name: "Kitchen"},
	}

	rec := do(t, f.mux(), http.MethodGet, "/connections/collections?user_id=u1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.CollectionsResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 2, resp.BoardCount)
	require.Len(t, resp.Boards, 2)
	assert.Equal(t, httphandler.BoardResponse{ID: "b1", Name: "Living room", PinCount: 12, Privacy: "public"}, resp.Boards[0])
}

func TestListCollections_Errors(t *testing.T) {
	tests := []struct {
		name       string
		seeded     bool
		probeErr   error
		loginErr   error
		boardsErr  error
		wantStatus int
		wantCode   string
		wantHint   bool
	}{
		{name: "no credential", wantStatus: http.StatusNotFound, wantCode: "not_found"},
		{
			name: "session cannot be restored", seeded: true,
			probeErr: errors.New("401"), loginErr: errors.New("bad password"),
			wantStatus: http.StatusInternalServerError, wantCode: "authentication_failed", wantHint: true,
		},
		{
			name: "provider fails", seeded: true, boardsErr: errors.New("pinterest 500"),
			wantStatus: http.StatusInternalServerError, wantCode: "provider_error", wantHint: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.seeded {
				f.seed("u1")
			}
			f.provider.probeErr = tt.probeErr
			f.provider.loginErr = tt.loginErr
			f.provider.boardsErr = tt.boardsErr

			rec := do(t, f.mux(), http.MethodGet, "/connections/collections?user_id=u1", nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp map[string]string
			decodeJSON(t, rec, &resp)
			assert.Equal(t, tt.wantCode, resp["code"])
			assert.Equal(t, tt.wantHint, resp["hint"] != "")
		})
	}
}

func TestListItems(t *testing.T) {
	f := newFixture()
	f.seed("u1")
	f.provider.pages = []model.ItemPage{
		{Items: []model.Item{{ID: "p1", Title: "Sofa"}, {ID: "p2"}}, Cursor: "1"},
		{Items: []model.Item{{ID: "p3", ImageURL: "https://i.pinimg.com/p3.jpg", ImageWidth: 736}}},
	}

	rec := do(t, f.mux(), http.MethodGet, "/connections/collections/b1/items?user_id=u1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.ItemsResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "b1", resp.BoardID)
	assert.Equal(t, 3, resp.PinCount)
	assert.False(t, resp.Truncated)
	assert.Equal(t, "Sofa", resp.Pins[0].Title)
	assert.Equal(t, 736, resp.Pins[2].Width)
}

func TestListItems_TruncatedAtPageBound(t *testing.T) {
	f := newFixture()
	f.seed("u1")
	// Every page points at the next; the fixture caps at 3 pages.
	for i := range 5 {
		f.provider.pages = append(f.provider.pages, model.ItemPage{
			Items:  []model.Item{{ID: string(rune('a' + i))}},
			Cursor: string(rune('0' + i + 1)),
		})
	}

	rec := do(t, f.mux(), http.MethodGet, "/connections/collections/b1/items?user_id=u1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.ItemsResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Truncated)
	assert.Equal(t, 3, resp.PinCount)
}

func TestListItems_EmptyBoard(t *testing.T) {
	f := newFixture()
	f.seed("u1")

	rec := do(t, f.mux(), http.MethodGet, "/connections/collections/b1/items?user_id=u1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pins":[]`)
}

var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestSubmitEdit_Success(t *testing.T) {
	f := newFixture()
	f.editor.output = &model.EditOutput{
		Images: []model.OutputImage{{URL: "https://cdn.example.com/out.png", Width: 512, Height: 512, ContentType: "image/png"}},
		Seed:   42,
	}
	seed := int64(42)

	rec := do(t, f.mux(), http.MethodPost, "/edit-jobs", httphandler.EditJobRequest{
		Image:        "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData),
		Prompt:       "scandinavian style",
		Filename:     "room.png",
		ImageSize:    "square_hd",
		OutputFormat: "jpeg",
		Seed:         &seed,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.EditSuccessResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "https://cdn.example.com/out.png", resp.EditedImageURL)
	assert.Len(t, resp.Images, 1)
	assert.Equal(t, int64(42), resp.Seed)
	assert.Equal(t, "uploads/room.png", resp.OriginalFilepath)

	assert.Equal(t, model.SizeSquareHD, f.editor.job.Options.SizePreset)
	assert.Equal(t, model.FormatJPEG, f.editor.job.Options.OutputFormat)
	assert.Equal(t, &seed, f.editor.job.Options.Seed)
}

func TestSubmitEdit_URLInput(t *testing.T) {
	f := newFixture()

	rec := do(t, f.mux(), http.MethodPost, "/edit-jobs", httphandler.EditJobRequest{
		Image: "https://images.example.com/room.jpg", Prompt: "p",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://images.example.com/room.jpg"}, f.editor.job.ImageURLs)
	assert.Contains(t, rec.Body.String(), `"images":[]`)
	assert.NotContains(t, rec.Body.String(), "original_filepath")
}

func TestSubmitEdit_PartialSuccess(t *testing.T) {
	f := newFixture()
	f.editor.editErr = errors.New("model crashed")

	rec := do(t, f.mux(), http.MethodPost, "/edit-jobs", httphandler.EditJobRequest{
		Image: base64.StdEncoding.EncodeToString(pngData), Prompt: "p", Filename: "room.png",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.EditPartialResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, httphandler.EditPartialResponse{
		Status:           "partial_success",
		OriginalFilepath: "uploads/room.png",
		UploadedImageURL: "https://cdn.example.com/in.png",
		FailedStage:      "edit",
		Error:            "model crashed",
	}, resp)
}

func TestSubmitEdit_Errors(t *testing.T) {
	validImage := base64.StdEncoding.EncodeToString(pngData)
	tests := []struct {
		name       string
		req        any
		stagingErr error
		uploadErr  error
		editErr    error
		wantStatus int
	}{
		{name: "malformed json", req: "not json", wantStatus: http.StatusBadRequest},
		{name: "missing image", req: httphandler.EditJobRequest{Prompt: "p"}, wantStatus: http.StatusBadRequest},
		{name: "missing prompt", req: httphandler.EditJobRequest{Image: validImage}, wantStatus: http.StatusBadRequest},
		{name: "invalid base64", req: httphandler.EditJobRequest{Image: "!!!not-base64", Prompt: "p"}, wantStatus: http.StatusBadRequest},
		{name: "unknown size", req: httphandler.EditJobRequest{Image: validImage, Prompt: "p", ImageSize: "huge"}, wantStatus: http.StatusBadRequest},
		{name: "negative wait", req: httphandler.EditJobRequest{Image: validImage, Prompt: "p", MaxWaitSeconds: -1}, wantStatus: http.StatusBadRequest},
		{name: "wait above limit", req: httphandler.EditJobRequest{Image: validImage, Prompt: "p", MaxWaitSeconds: 3601}, wantStatus: http.StatusBadRequest},
		{name: "wait that would overflow", req: httphandler.EditJobRequest{Image: validImage, Prompt: "p", MaxWaitSeconds: 1 << 62}, wantStatus: http.StatusBadRequest},
		{name: "staging fails", req: httphandler.EditJobRequest{Image: validImage, Prompt: "p"}, stagingErr: errors.New("read-only"), wantStatus: http.StatusInternalServerError},
		{name: "upload fails", req: httphandler.EditJobRequest{Image: validImage, Prompt: "p"}, uploadErr: errors.New("503"), wantStatus: http.StatusBadGateway},
		{name: "url edit fails", req: httphandler.EditJobRequest{Image: "https://x.test/a.png", Prompt: "p"}, editErr: errors.New("boom"), wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.staging.err = tt.stagingErr
			f.editor.uploadErr = tt.uploadErr
			f.editor.editErr = tt.editErr

			rec := do(t, f.mux(), http.MethodPost, "/edit-jobs", tt.req)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp map[string]string
			decodeJSON(t, rec, &resp)
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestSubmitEdit_NotConfigured(t *testing.T) {
	f := newFixture()
	sessions := application.NewSessionManager(f.store, f.provider, discard)
	mux := httphandler.NewServeMux(httphandler.NewHandler(sessions, nil, discard), discard)

	rec := do(t, mux, http.MethodPost, "/edit-jobs", httphandler.EditJobRequest{Image: "https://x.test/a.png", Prompt: "p"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		opts       []httphandler.Option
		wantStatus int
		want       string
	}{
		{name: "no readiness check", wantStatus: http.StatusOK, want: "healthy"},
		{name: "store reachable", opts: []httphandler.Option{httphandler.WithReadiness(mockPinger{})}, wantStatus: http.StatusOK, want: "healthy"},
		{name: "store down", opts: []httphandler.Option{httphandler.WithReadiness(mockPinger{err: errors.New("closed")})}, wantStatus: http.StatusServiceUnavailable, want: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newFixture().mux(tt.opts...), http.MethodGet, "/health", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp httphandler.HealthResponse
			decodeJSON(t, rec, &resp)
			assert.Equal(t, tt.want, resp.Status)
			_, err := time.Parse(time.RFC3339, resp.Timestamp)
			assert.NoError(t, err)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})

	rec := do(t, newFixture().mux(httphandler.WithMetricsHandler(metrics)), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())

	rec = do(t, newFixture().mux(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestID(t *testing.T) {
	mux := newFixture().mux()

	rec := do(t, mux, http.MethodGet, "/health", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	panicky := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	}
	f := newFixture()
	sessions := application.NewSessionManager(f.store, f.provider, discard)
	mux := httphandler.NewServeMux(httphandler.NewHandler(sessions, nil, discard), discard, panicky)

	rec := do(t, mux, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "internal server error"))
	assert.Contains(t, rec.Body.String(), `"code":"internal"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
