// Package httpapi exposes the file sharing HTTP/JSON API.
package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/and161185/fileshare/internal/convert"
	"github.com/and161185/fileshare/internal/errs"
	"github.com/and161185/fileshare/internal/model"
	"github.com/and161185/fileshare/internal/service"
)

const (
	maxJSONBytes    = 1 << 20
	maxExpiryHours  = 24 * 365 * 10
	minShareExpiry  = time.Minute
	healthzTimeout  = 2 * time.Second
	corsMaxAgeSecs  = 86400
	filenameHeader  = "X-Filename"
	shareTokenParam = "token"
	fileIDParam     = "fileID"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP layer settings.
type Config struct {
	// PublicBaseURL prefixes share links, e.g. https://files.example.com.
	PublicBaseURL string
	CORSOrigins   []string
	// RetryAfter is advertised on 429 responses when the error carries no
	// remaining block time of its own.
	RetryAfter time.Duration
	// TrustedProxies may set X-Forwarded-For / X-Real-IP. Nil trusts none.
	TrustedProxies *TrustedProxies
}

// Server wires services into HTTP handlers.
type Server struct {
	auth   service.AuthService
	files  service.FileService
	shares service.ShareService
	db     Pinger
	cfg    Config
	log    *zap.Logger
}

// New constructs the API server. db may be nil, in which case /healthz always succeeds.
func New(auth service.AuthService, files service.FileService, shares service.ShareService, db Pinger, cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, files: files, shares: shares, db: db, cfg: cfg, log: log}
}

// Router builds the chi router with middleware and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Logging(s.log, s.cfg.TrustedProxies))
	r.Use(Recover(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", filenameHeader},
		ExposedHeaders:   []string{"Content-Disposition", "Content-Length", "ETag", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           corsMaxAgeSecs,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.With(s.optionalAuth).Get("/shared/{"+shareTokenParam+"}", s.handleShared)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/logout", s.handleLogout)
		r.Post("/upload", s.handleUpload)
		r.Get("/files", s.handleListFiles)
		r.Delete("/files/{"+fileIDParam+"}", s.handleDeleteFile)
		r.Get("/download/{"+fileIDParam+"}", s.handleDownload)
		r.Post("/share", s.handleCreateShare)
		r.Delete("/share/{"+shareTokenParam+"}", s.handleRevokeShare)
		r.Get("/shared-with-me", s.handleSharedWithMe)
	})
	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthzTimeout)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeError(w, r, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{envelope: success, Status: "ok"})
}

// --- Auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.auth.Register(r.Context(), strings.TrimSpace(req.Username), strings.TrimSpace(req.Email), req.Password)
	if errors.Is(err, errs.ErrAlreadyExists) {
		writeError(w, r, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{envelope: success, UserID: id})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		s.fail(w, r, errs.Validation("", "username and password are required"))
		return
	}
	tok, u, err := s.auth.LoginWithIP(r.Context(), username, req.Password, ClientIP(r, s.cfg.TrustedProxies))
	if errors.Is(err, errs.ErrUnauthorized) {
		writeError(w, r, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		envelope:     success,
		SessionToken: tok.AccessToken,
		UserID:       u.ID,
		Username:     u.Username,
		ExpiresAt:    tok.ExpiresAt.UTC(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	tok, err := bearerToken(r)
	if err != nil {
		s.fail(w, r, errs.ErrUnauthorized)
		return
	}
	if err := s.auth.Logout(r.Context(), tok); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

// --- Files ---

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uid := mustUserID(r)
	name := r.Header.Get(filenameHeader)
	if strings.Contains(name, "%") {
		if dec, err := url.PathUnescape(name); err == nil {
			name = dec
		}
	}
	f, err := s.files.Upload(r.Context(), uid, name, r.Header.Get("Content-Type"), r.Body, r.ContentLength)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{envelope: success, FileInfo: convert.ToFileInfo(f)})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.files.List(r.Context(), mustUserID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, filesResponse{envelope: success, Files: convert.ToFileInfos(list)})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, rc, err := s.files.Fetch(r.Context(), id, mustUserID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.serveFile(w, r, f, rc)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.files.Delete(r.Context(), id, mustUserID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func fileIDFromPath(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, fileIDParam), 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Validation("file_id", "must be a positive integer")
	}
	return id, nil
}

// serveFile streams content with download headers and closes rc.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, f model.File, rc io.ReadCloser) {
	defer rc.Close()

	h := w.Header()
	etag := ""
	if f.Checksum != "" {
		etag = `"` + f.Checksum + `"`
		h.Set("ETag", etag)
	}
	h.Set("Cache-Control", "private, no-cache")
	if etag != "" && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename})
	if disposition == "" {
		disposition = "attachment"
	}
	h.Set("Content-Type", f.ContentType)
	h.Set("Content-Disposition", disposition)
	h.Set("Content-Length", strconv.FormatInt(f.Size, 10))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		s.log.Warn("stream file", zap.Int64("file_id", f.ID), zap.Error(err))
	}
}

// --- Shares ---

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sr, err := s.toShareRequest(req, mustUserID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	g, err := s.shares.CreateShare(r.Context(), sr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shareResponse{envelope: success, ShareInfo: convert.ToShareInfo(g, s.cfg.PublicBaseURL)})
}

// toShareRequest validates the wire request. A recipient makes the grant
// private; its absence makes it public.
func (s *Server) toShareRequest(req shareRequest, ownerID int64) (service.ShareRequest, error) {
	if !req.FileID.Set {
		return service.ShareRequest{}, errs.Validation("file_id", "is required")
	}
	fileID, err := req.FileID.Int("file_id")
	if err != nil {
		return service.ShareRequest{}, err
	}
	if fileID <= 0 {
		return service.ShareRequest{}, errs.Validation("file_id", "must be a positive integer")
	}

	out := service.ShareRequest{FileID: fileID, OwnerID: ownerID, Audience: model.PublicAudience{}}
	if req.SharedWithUserID.Set {
		target, err := req.SharedWithUserID.Int("shared_with_user_id")
		if err != nil {
			return service.ShareRequest{}, err
		}
		if target <= 0 {
			return service.ShareRequest{}, errs.Validation("shared_with_user_id", "must be a positive integer")
		}
		out.Audience = model.PrivateAudience{UserID: target}
	}

	if req.ExpiryHours.Set {
		hours, err := req.ExpiryHours.Float("expiry_hours")
		if err != nil {
			return service.ShareRequest{}, err
		}
		if hours <= 0 {
			return service.ShareRequest{}, errs.Validation("expiry_hours", "must be positive")
		}
		if hours > maxExpiryHours {
			return service.ShareRequest{}, errs.Validation("expiry_hours", "too large")
		}
		d := time.Duration(hours * float64(time.Hour))
		if d < minShareExpiry {
			return service.ShareRequest{}, errs.Validation("expiry_hours", "must be at least one minute")
		}
		out.Expiry = &d
	}
	return out, nil
}

func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	if err := s.shares.Revoke(r.Context(), chi.URLParam(r, shareTokenParam), mustUserID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleSharedWithMe(w http.ResponseWriter, r *http.Request) {
	list, err := s.shares.ListSharedWithMe(r.Context(), mustUserID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sharedWithMeResponse{envelope: success, SharedFiles: convert.ToSharedFileInfos(list)})
}

func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	f, rc, err := s.shares.OpenShared(r.Context(), chi.URLParam(r, shareTokenParam), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.serveFile(w, r, f, rc)
}

// mustUserID reads the user set by requireAuth.
func mustUserID(r *http.Request) int64 {
	uid, ok := UserIDFromCtx(r.Context())
	if !ok {
		panic("httpapi: handler mounted without requireAuth")
	}
	return uid
}
