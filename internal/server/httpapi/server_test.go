package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/fileshare/internal/errs"
	"github.com/and161185/fileshare/internal/model"
	"github.com/and161185/fileshare/internal/service"
)

var loginExpiry = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type fakeAuth struct {
	tokens      map[string]int64
	users       map[string]bool
	loginErr    error
	lastIP      string
	loggedOut   []string
	registerErr error
}

var _ service.AuthService = (*fakeAuth)(nil)

func (f *fakeAuth) Register(_ context.Context, username, _, password string) (int64, error) {
	if f.registerErr != nil {
		return 0, f.registerErr
	}
	if len(password) < 6 {
		return 0, errs.Validation("password", "must be 6-128 characters")
	}
	if f.users[username] {
		return 0, errs.ErrAlreadyExists
	}
	f.users[username] = true
	return int64(len(f.users)), nil
}

func (f *fakeAuth) LoginWithIP(_ context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	f.lastIP = ip
	if f.loginErr != nil {
		return model.Tokens{}, model.User{}, f.loginErr
	}
	if password != "secret1" {
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}
	return model.Tokens{AccessToken: "tok-" + username, ExpiresAt: loginExpiry}, model.User{ID: 1, Username: username}, nil
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (int64, error) {
	uid, ok := f.tokens[token]
	if !ok {
		return 0, errs.ErrUnauthorized
	}
	return uid, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	delete(f.tokens, token)
	return nil
}

func (f *fakeAuth) CleanupSessions(context.Context) (int64, error) { return 0, nil }

type uploadCall struct {
	owner       int64
	name, ctype string
	size        int64
	body        string
}

type fakeFileSvc struct {
	files     map[int64]model.File
	content   map[int64]string
	uploadErr error
	listErr   error
	last      uploadCall
	deleted   []int64
}

var _ service.FileService = (*fakeFileSvc)(nil)

func (f *fakeFileSvc) Upload(_ context.Context, ownerID int64, filename, contentType string, body io.Reader, size int64) (model.File, error) {
	b, _ := io.ReadAll(body)
	f.last = uploadCall{owner: ownerID, name: filename, ctype: contentType, size: size, body: string(b)}
	if f.uploadErr != nil {
		return model.File{}, f.uploadErr
	}
	file := model.File{ID: 10, OwnerID: ownerID, Filename: filename, ContentType: contentType, Size: int64(len(b))}
	return file, nil
}

func (f *fakeFileSvc) List(_ context.Context, ownerID int64) ([]model.File, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.File
	for _, file := range f.files {
		if file.OwnerID == ownerID {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeFileSvc) Fetch(_ context.Context, fileID, requesterID int64) (model.File, io.ReadCloser, error) {
	file, ok := f.files[fileID]
	if !ok {
		return model.File{}, nil, errs.ErrNotFound
	}
	if file.OwnerID != requesterID {
		return model.File{}, nil, errs.ErrForbidden
	}
	return file, io.NopCloser(strings.NewReader(f.content[fileID])), nil
}

func (f *fakeFileSvc) Delete(_ context.Context, fileID, ownerID int64) error {
	file, ok := f.files[fileID]
	if !ok {
		return errs.ErrNotFound
	}
	if file.OwnerID != ownerID {
		return errs.ErrForbidden
	}
	f.deleted = append(f.deleted, fileID)
	return nil
}

type fakeShareSvc struct {
	grants        map[string]model.ShareGrant
	file          model.File
	content       string
	openErr       error
	lastReq       service.ShareRequest
	createCalls   int
	lastRequester int64
	revoked       []string
	shared        []model.SharedFile
}

var _ service.ShareService = (*fakeShareSvc)(nil)

func (f *fakeShareSvc) CreateShare(_ context.Context, req service.ShareRequest) (model.ShareGrant, error) {
	f.createCalls++
	f.lastReq = req
	if req.FileID != f.file.ID {
		return model.ShareGrant{}, errs.ErrNotFound
	}
	g := model.ShareGrant{Token: "tok123", FileID: req.FileID, CreatedBy: req.OwnerID, Audience: req.Audience}
	if req.Expiry != nil {
		exp := loginExpiry.Add(*req.Expiry)
		g.ExpiresAt = &exp
	}
	return g, nil
}

func (f *fakeShareSvc) ResolveShare(_ context.Context, token string, requesterID int64) (model.ShareGrant, error) {
	g, ok := f.grants[token]
	if !ok {
		return model.ShareGrant{}, errs.ErrNotFound
	}
	if !g.Permits(requesterID) {
		return model.ShareGrant{}, errs.ErrForbidden
	}
	return g, nil
}

func (f *fakeShareSvc) OpenShared(ctx context.Context, token string, requesterID int64) (model.File, io.ReadCloser, error) {
	f.lastRequester = requesterID
	if f.openErr != nil {
		return model.File{}, nil, f.openErr
	}
	if _, err := f.ResolveShare(ctx, token, requesterID); err != nil {
		return model.File{}, nil, err
	}
	return f.file, io.NopCloser(strings.NewReader(f.content)), nil
}

func (f *fakeShareSvc) ListSharedWithMe(context.Context, int64) ([]model.SharedFile, error) {
	return f.shared, nil
}

func (f *fakeShareSvc) Revoke(_ context.Context, token string, ownerID int64) error {
	g, ok := f.grants[token]
	if !ok {
		return errs.ErrNotFound
	}
	if g.CreatedBy != ownerID {
		return errs.ErrForbidden
	}
	f.revoked = append(f.revoked, token)
	return nil
}

func (f *fakeShareSvc) CleanupExpired(context.Context, time.Duration) (int64, error) { return 0, nil }

type pingerFunc func(context.Context) error

func (p pingerFunc) Ping(ctx context.Context) error { return p(ctx) }

type testAPI struct {
	h      http.Handler
	auth   *fakeAuth
	files  *fakeFileSvc
	shares *fakeShareSvc
}

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
)

func newTestAPI(t *testing.T, db Pinger) *testAPI {
	t.Helper()
	report := model.File{ID: 5, OwnerID: 1, Filename: "report.pdf", ContentType: "application/pdf", Size: 11, Checksum: "abc123"}
	api := &testAPI{
		auth: &fakeAuth{tokens: map[string]int64{aliceToken: 1, bobToken: 2}, users: map[string]bool{}},
		files: &fakeFileSvc{
			files:   map[int64]model.File{5: report},
			content: map[int64]string{5: "pdf content"},
		},
		shares: &fakeShareSvc{
			grants: map[string]model.ShareGrant{
				"pub":     {Token: "pub", FileID: 5, CreatedBy: 1, Audience: model.PublicAudience{}},
				"for-bob": {Token: "for-bob", FileID: 5, CreatedBy: 1, Audience: model.PrivateAudience{UserID: 2}},
			},
			file:    report,
			content: "pdf content",
		},
	}
	cfg := Config{PublicBaseURL: "https://files.example.com", RetryAfter: 15 * time.Minute}
	api.h = New(api.auth, api.files, api.shares, db, cfg, zaptest.NewLogger(t)).Router()
	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func bearer(tok string) []string { return []string{"Authorization", "Bearer " + tok} }

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, code int, msg string) {
	t.Helper()
	require.Equal(t, code, rec.Code, rec.Body.String())
	m := decode(t, rec)
	require.Equal(t, false, m["success"])
	if msg != "" {
		require.Equal(t, msg, m["error"])
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, pingerFunc(func(context.Context) error { return nil }))
	rec := api.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode(t, rec)["status"])

	down := newTestAPI(t, pingerFunc(func(context.Context) error { return errors.New("refused") }))
	requireError(t, down.do(t, http.MethodGet, "/healthz", ""), http.StatusServiceUnavailable, "database unavailable")

	noDB := newTestAPI(t, nil)
	require.Equal(t, http.StatusOK, noDB.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestRegister(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/register", `{"username":"alice","email":"a@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	require.Equal(t, true, m["success"])
	require.EqualValues(t, 1, m["user_id"])

	requireError(t, api.do(t, http.MethodPost, "/register", `{"username":"alice","password":"other12"}`),
		http.StatusConflict, "username already taken")
	requireError(t, api.do(t, http.MethodPost, "/register", `{"username":"bob","password":"x"}`),
		http.StatusBadRequest, "password: must be 6-128 characters")
	requireError(t, api.do(t, http.MethodPost, "/register", `{"username":`), http.StatusBadRequest, "")
	requireError(t, api.do(t, http.MethodPost, "/register", ""), http.StatusBadRequest, "request body is empty")

	api.auth.registerErr = errors.New("pg: connection reset")
	requireError(t, api.do(t, http.MethodPost, "/register", `{"username":"carol","password":"secret1"}`),
		http.StatusInternalServerError, "internal error")
}

func TestLogin(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/login", `{"username":"alice","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	require.Equal(t, "tok-alice", m["session_token"])
	require.Equal(t, "alice", m["username"])
	require.EqualValues(t, 1, m["user_id"])
	require.Equal(t, loginExpiry.Format(time.RFC3339), m["expires_at"])
	require.Equal(t, "192.0.2.1", api.auth.lastIP, "port must be stripped")

	requireError(t, api.do(t, http.MethodPost, "/login", `{"username":"alice","password":"nope12"}`),
		http.StatusUnauthorized, "invalid username or password")
	requireError(t, api.do(t, http.MethodPost, "/login", `{"username":"alice"}`), http.StatusBadRequest, "")

	api.auth.loginErr = errs.ErrRateLimited
	rec = api.do(t, http.MethodPost, "/login", `{"username":"alice","password":"secret1"}`)
	requireError(t, rec, http.StatusTooManyRequests, "")
	require.Equal(t, "900", rec.Header().Get("Retry-After"))

	api.auth.loginErr = errs.RateLimited(89500 * time.Millisecond)
	rec = api.do(t, http.MethodPost, "/login", `{"username":"alice","password":"secret1"}`)
	requireError(t, rec, http.StatusTooManyRequests, "")
	require.Equal(t, "90", rec.Header().Get("Retry-After"), "remaining block time wins over the configured default")
}

func TestLogin_ForwardedHeaderFromUntrustedPeer(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		api.do(t, http.MethodPost, "/login", `{"username":"alice","password":"nope12"}`,
			"X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i), "X-Real-IP", "203.0.113.9")
		seen[api.auth.lastIP] = true
	}
	require.Equal(t, map[string]bool{"192.0.2.1": true}, seen, "limiter key must follow the direct peer")
}

func TestLogin_ForwardedHeaderFromTrustedProxy(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)
	trusted, err := NewTrustedProxies([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	api.h = New(api.auth, api.files, api.shares, nil, Config{TrustedProxies: trusted}, zaptest.NewLogger(t)).Router()

	api.do(t, http.MethodPost, "/login", `{"username":"alice","password":"secret1"}`, "X-Forwarded-For", "203.0.113.9, 192.0.2.7")
	require.Equal(t, "203.0.113.9", api.auth.lastIP)

	api.do(t, http.MethodPost, "/login", `{"username":"alice","password":"secret1"}`, "X-Real-IP", "198.51.100.4")
	require.Equal(t, "198.51.100.4", api.auth.lastIP)
}

func TestLogin_TrimsUsername(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/login", `{"username":"  alice ","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tok-alice", decode(t, rec)["session_token"])

	requireError(t, api.do(t, http.MethodPost, "/login", `{"username":"   ","password":"secret1"}`), http.StatusBadRequest, "")
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/files"},
		{http.MethodPost, "/upload"},
		{http.MethodGet, "/download/5"},
		{http.MethodDelete, "/files/5"},
		{http.MethodPost, "/share"},
		{http.MethodDelete, "/share/pub"},
		{http.MethodGet, "/shared-with-me"},
		{http.MethodPost, "/logout"},
	} {
		requireError(t, api.do(t, tc.method, tc.path, ""), http.StatusUnauthorized, "")
		requireError(t, api.do(t, tc.method, tc.path, "", bearer("forged")...), http.StatusUnauthorized, "")
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/logout", "", bearer(aliceToken)...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{aliceToken}, api.auth.loggedOut)

	requireError(t, api.do(t, http.MethodGet, "/files", "", bearer(aliceToken)...), http.StatusUnauthorized, "")
}

func TestUpload(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/upload", "%PDF-1.7 data",
		append(bearer(aliceToken), "X-Filename", "report.pdf", "Content-Type", "application/pdf")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode(t, rec)
	require.EqualValues(t, 10, m["file_id"])
	require.Equal(t, "report.pdf", m["filename"])
	require.EqualValues(t, 13, m["size"])

	require.Equal(t, uploadCall{owner: 1, name: "report.pdf", ctype: "application/pdf", size: 13, body: "%PDF-1.7 data"}, api.files.last)

	api.do(t, http.MethodPost, "/upload", "x", append(bearer(aliceToken), "X-Filename", "r%C3%A9sum%C3%A9.txt")...)
	require.Equal(t, "résumé.txt", api.files.last.name)

	api.files.uploadErr = errs.ErrTooLarge
	requireError(t, api.do(t, http.MethodPost, "/upload", "big", bearer(aliceToken)...), http.StatusRequestEntityTooLarge, "file too large")
}

func TestListFiles(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodGet, "/files", "", bearer(aliceToken)...)
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode(t, rec)["files"].([]any)
	require.Len(t, files, 1)
	entry := files[0].(map[string]any)
	require.EqualValues(t, 5, entry["file_id"])
	require.Equal(t, "report.pdf", entry["filename"])
	require.Equal(t, "application/pdf", entry["content_type"])
	require.Contains(t, entry, "upload_date")

	rec = api.do(t, http.MethodGet, "/files", "", bearer(bobToken)...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"files":[]`)
}

func TestDownload(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodGet, "/download/5", "", bearer(aliceToken)...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pdf content", rec.Body.String())
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, "11", rec.Header().Get("Content-Length"))
	require.Equal(t, `"abc123"`, rec.Header().Get("ETag"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	require.Contains(t, rec.Header().Get("Content-Disposition"), "report.pdf")

	rec = api.do(t, http.MethodGet, "/download/5", "", append(bearer(aliceToken), "If-None-Match", `"abc123"`)...)
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Empty(t, rec.Body.String())

	requireError(t, api.do(t, http.MethodGet, "/download/5", "", bearer(bobToken)...), http.StatusForbidden, "access denied")
	requireError(t, api.do(t, http.MethodGet, "/download/99", "", bearer(aliceToken)...), http.StatusNotFound, "not found")
	requireError(t, api.do(t, http.MethodGet, "/download/abc", "", bearer(aliceToken)...), http.StatusBadRequest, "")
	requireError(t, api.do(t, http.MethodGet, "/download/-1", "", bearer(aliceToken)...), http.StatusBadRequest, "")
}

func TestDownload_NonASCIIFilename(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)
	f := api.files.files[5]
	f.Filename = "отчёт.pdf"
	api.files.files[5] = f

	rec := api.do(t, http.MethodGet, "/download/5", "", bearer(aliceToken)...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "filename*=utf-8''")
}

func TestDeleteFile(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	requireError(t, api.do(t, http.MethodDelete, "/files/5", "", bearer(bobToken)...), http.StatusForbidden, "")
	require.Equal(t, http.StatusOK, api.do(t, http.MethodDelete, "/files/5", "", bearer(aliceToken)...).Code)
	require.Equal(t, []int64{5}, api.files.deleted)
	requireError(t, api.do(t, http.MethodDelete, "/files/77", "", bearer(aliceToken)...), http.StatusNotFound, "")
}

func TestCreateShare(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/share", `{"file_id":5}`, bearer(aliceToken)...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode(t, rec)
	require.Equal(t, "tok123", m["share_token"])
	require.Equal(t, "https://files.example.com/shared/tok123", m["share_url"])
	require.Equal(t, "public", m["visibility"])
	require.Nil(t, m["expires_at"])
	require.Equal(t, model.PublicAudience{}, api.shares.lastReq.Audience)
	require.Nil(t, api.shares.lastReq.Expiry)
	require.EqualValues(t, 1, api.shares.lastReq.OwnerID)

	rec = api.do(t, http.MethodPost, "/share", `{"file_id":"5","shared_with_user_id":"2","expiry_hours":"1"}`, bearer(aliceToken)...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m = decode(t, rec)
	require.Equal(t, "private", m["visibility"])
	require.EqualValues(t, 2, m["shared_with_user_id"])
	require.NotNil(t, m["expires_at"])
	require.Equal(t, model.PrivateAudience{UserID: 2}, api.shares.lastReq.Audience)
	require.Equal(t, time.Hour, *api.shares.lastReq.Expiry)

	requireError(t, api.do(t, http.MethodPost, "/share", `{"file_id":99}`, bearer(aliceToken)...), http.StatusNotFound, "")
}

func TestCreateShare_ExpiryParsing(t *testing.T) {
	t.Parallel()

	accepted := map[string]*time.Duration{
		`{"file_id":5,"expiry_hours":"1"}`:   durPtr(time.Hour),
		`{"file_id":5,"expiry_hours":1}`:     durPtr(time.Hour),
		`{"file_id":5,"expiry_hours":" 24 "}`: durPtr(24 * time.Hour),
		`{"file_id":5,"expiry_hours":0.5}`:   durPtr(30 * time.Minute),
		`{"file_id":5}`:                      nil,
		`{"file_id":5,"expiry_hours":""}`:    nil,
		`{"file_id":5,"expiry_hours":null}`:  nil,
	}
	for body, want := range accepted {
		api := newTestAPI(t, nil)
		rec := api.do(t, http.MethodPost, "/share", body, bearer(aliceToken)...)
		require.Equal(t, http.StatusOK, rec.Code, body)
		if want == nil {
			require.Nil(t, api.shares.lastReq.Expiry, body)
		} else {
			require.Equal(t, *want, *api.shares.lastReq.Expiry, body)
		}
	}

	rejected := []string{
		`{"file_id":5,"expiry_hours":"0"}`,
		`{"file_id":5,"expiry_hours":-2}`,
		`{"file_id":5,"expiry_hours":"abc"}`,
		`{"file_id":5,"expiry_hours":0.001}`,
		`{"file_id":5,"expiry_hours":true}`,
		`{"file_id":5,"expiry_hours":1e9}`,
		`{"expiry_hours":1}`,
		`{"file_id":"five"}`,
		`{"file_id":0}`,
		`{"file_id":5,"shared_with_user_id":-1}`,
		`{"file_id":5,"shared_with_user_id":"x"}`,
	}
	for _, body := range rejected {
		api := newTestAPI(t, nil)
		requireError(t, api.do(t, http.MethodPost, "/share", body, bearer(aliceToken)...), http.StatusBadRequest, "")
		require.Zero(t, api.shares.createCalls, body)
	}
}

func durPtr(d time.Duration) *time.Duration { return &d }

func TestRevokeShare(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	requireError(t, api.do(t, http.MethodDelete, "/share/pub", "", bearer(bobToken)...), http.StatusForbidden, "")
	require.Equal(t, http.StatusOK, api.do(t, http.MethodDelete, "/share/pub", "", bearer(aliceToken)...).Code)
	require.Equal(t, []string{"pub"}, api.shares.revoked)
	requireError(t, api.do(t, http.MethodDelete, "/share/missing", "", bearer(aliceToken)...), http.StatusNotFound, "")
}

func TestSharedWithMe(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodGet, "/shared-with-me", "", bearer(bobToken)...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"shared_files":[]`)

	exp := loginExpiry
	api.shares.shared = []model.SharedFile{{File: api.shares.file, Token: "for-bob", SharedBy: "alice", ExpiresAt: &exp}}
	rec = api.do(t, http.MethodGet, "/shared-with-me", "", bearer(bobToken)...)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["shared_files"].([]any)
	require.Len(t, list, 1)
	entry := list[0].(map[string]any)
	require.Equal(t, "for-bob", entry["share_token"])
	require.Equal(t, "alice", entry["shared_by"])
	require.Equal(t, "report.pdf", entry["filename"])
	require.Equal(t, loginExpiry.Format(time.RFC3339), entry["expires_at"])
}

func TestShared_Access(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodGet, "/shared/pub", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pdf content", rec.Body.String())
	require.Zero(t, api.shares.lastRequester, "no header means anonymous")

	requireError(t, api.do(t, http.MethodGet, "/shared/for-bob", ""), http.StatusForbidden, "")
	requireError(t, api.do(t, http.MethodGet, "/shared/for-bob", "", bearer(aliceToken)...), http.StatusForbidden, "")

	rec = api.do(t, http.MethodGet, "/shared/for-bob", "", bearer(bobToken)...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, api.shares.lastRequester)

	requireError(t, api.do(t, http.MethodGet, "/shared/pub", "", bearer("stale")...), http.StatusUnauthorized, "")
	requireError(t, api.do(t, http.MethodGet, "/shared/nope", ""), http.StatusNotFound, "not found")

	api.shares.openErr = errs.ErrExpired
	requireError(t, api.do(t, http.MethodGet, "/shared/pub", ""), http.StatusNotFound, "share expired")
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodOptions, "/upload", "",
		"Origin", "https://app.example.com",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Authorization, X-Filename",
	)
	require.Contains(t, []int{http.StatusOK, http.StatusNoContent}, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil)
	requireError(t, api.do(t, http.MethodGet, "/nope", ""), http.StatusNotFound, "not found")
}
