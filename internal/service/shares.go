package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fileshare/internal/blob"
	pkgcrypto "github.com/and161185/fileshare/internal/crypto"
	"github.com/and161185/fileshare/internal/errs"
	"github.com/and161185/fileshare/internal/model"
	"github.com/and161185/fileshare/internal/repository"
)

// ShareService creates and resolves share grants.
type ShareService interface {
	// CreateShare grants access to one of the owner's files.
	CreateShare(ctx context.Context, req ShareRequest) (model.ShareGrant, error)
	// ResolveShare checks a token for requesterID (model.Anonymous for no session).
	ResolveShare(ctx context.Context, token string, requesterID int64) (model.ShareGrant, error)
	// OpenShared resolves a token and opens the file behind it.
	OpenShared(ctx context.Context, token string, requesterID int64) (model.File, io.ReadCloser, error)
	// ListSharedWithMe lists active private grants targeting userID.
	ListSharedWithMe(ctx context.Context, userID int64) ([]model.SharedFile, error)
	// Revoke deletes one grant created by ownerID.
	Revoke(ctx context.Context, token string, ownerID int64) error
	// CleanupExpired removes grants that lapsed more than retention ago.
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// ShareRequest describes a grant to create. Expiry nil means the configured default.
type ShareRequest struct {
	FileID   int64
	OwnerID  int64
	Audience model.Audience
	Expiry   *time.Duration
}

// ShareConfig holds share engine parameters.
type ShareConfig struct {
	// DefaultExpiry applies when a request carries none; 0 means never.
	DefaultExpiry time.Duration
}

const (
	shareTokenBytes    = 32
	shareTokenAttempts = 5
)

type ShareServiceImpl struct {
	shares repository.ShareRepository
	files  repository.FileRepository
	users  repository.UserRepository
	blobs  blob.Store
	cfg    ShareConfig
	opts   options
	token  func() (string, error)
}

// NewShareService constructs ShareService.
func NewShareService(
	shares repository.ShareRepository,
	files repository.FileRepository,
	users repository.UserRepository,
	blobs blob.Store,
	cfg ShareConfig,
	opts ...Option,
) *ShareServiceImpl {
	return &ShareServiceImpl{
		shares: shares,
		files:  files,
		users:  users,
		blobs:  blobs,
		cfg:    cfg,
		opts:   buildOptions(opts),
		token:  func() (string, error) { return pkgcrypto.RandToken(shareTokenBytes) },
	}
}

// CreateShare validates ownership and audience, then persists a grant under a
// fresh token. Expiry is fixed to an absolute time here and never recomputed.
func (s *ShareServiceImpl) CreateShare(ctx context.Context, req ShareRequest) (model.ShareGrant, error) {
	if req.Audience == nil {
		return model.ShareGrant{}, errs.Validation("visibility", "audience is required")
	}
	f, err := s.files.Get(ctx, req.FileID)
	if err != nil {
		return model.ShareGrant{}, err
	}
	if f.OwnerID != req.OwnerID {
		return model.ShareGrant{}, errs.ErrForbidden
	}

	now := s.opts.now()
	if priv, ok := req.Audience.(model.PrivateAudience); ok {
		if _, err := s.users.GetByID(ctx, priv.UserID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return model.ShareGrant{}, errs.Validation("shared_with_user_id", "user does not exist")
			}
			return model.ShareGrant{}, err
		}
	}

	expiry := s.cfg.DefaultExpiry
	if req.Expiry != nil {
		if *req.Expiry <= 0 {
			return model.ShareGrant{}, errs.Validation("expiry_hours", "must be positive")
		}
		expiry = *req.Expiry
	}
	g := model.ShareGrant{
		FileID:    f.ID,
		CreatedBy: req.OwnerID,
		Audience:  req.Audience,
	}
	if expiry > 0 {
		exp := now.Add(expiry)
		g.ExpiresAt = &exp
	}

	_, private := g.Audience.(model.PrivateAudience)
	for attempt := 1; ; attempt++ {
		if g.Token, err = s.token(); err != nil {
			return model.ShareGrant{}, err
		}
		created := true
		if private {
			// an unexpired grant to the same recipient is handed back as is
			created, err = s.shares.CreatePrivateOnce(ctx, &g, now)
		} else {
			err = s.shares.Create(ctx, &g)
		}
		if err == nil && !created {
			return g, nil
		}
		if err == nil {
			break
		}
		if !errors.Is(err, errs.ErrAlreadyExists) || attempt >= shareTokenAttempts {
			return model.ShareGrant{}, fmt.Errorf("create share: %w", err)
		}
		s.opts.log.Warn("share token collision, retrying", zap.Int("attempt", attempt))
	}

	s.opts.log.Info("share created",
		zap.Int64("file_id", g.FileID),
		zap.String("visibility", g.Audience.Visibility()),
	)
	return g, nil
}

// ResolveShare applies, in order: existence, expiry, audience.
func (s *ShareServiceImpl) ResolveShare(ctx context.Context, token string, requesterID int64) (model.ShareGrant, error) {
	if token == "" {
		return model.ShareGrant{}, errs.ErrNotFound
	}
	g, err := s.shares.GetByToken(ctx, token)
	if err != nil {
		return model.ShareGrant{}, err
	}
	if g.Expired(s.opts.now()) {
		return model.ShareGrant{}, errs.ErrExpired
	}
	if !g.Permits(requesterID) {
		return model.ShareGrant{}, errs.ErrForbidden
	}
	return *g, nil
}

// OpenShared resolves token and opens the shared file.
func (s *ShareServiceImpl) OpenShared(ctx context.Context, token string, requesterID int64) (model.File, io.ReadCloser, error) {
	g, err := s.ResolveShare(ctx, token, requesterID)
	if err != nil {
		return model.File{}, nil, err
	}
	f, err := s.files.Get(ctx, g.FileID)
	if err != nil {
		return model.File{}, nil, err
	}
	rc, err := s.blobs.Open(ctx, f.StorageKey)
	if err != nil {
		return model.File{}, nil, err
	}
	return *f, rc, nil
}

// HasActiveGrant reports whether userID holds an unexpired private grant for fileID.
func (s *ShareServiceImpl) HasActiveGrant(ctx context.Context, fileID, userID int64) (bool, error) {
	if userID == model.Anonymous {
		return false, nil
	}
	_, err := s.shares.FindActivePrivate(ctx, fileID, userID, s.opts.now())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ListSharedWithMe lists active private grants targeting userID.
func (s *ShareServiceImpl) ListSharedWithMe(ctx context.Context, userID int64) ([]model.SharedFile, error) {
	return s.shares.ListSharedWith(ctx, userID, s.opts.now())
}

// Revoke deletes one grant; other grants for the same file are untouched.
func (s *ShareServiceImpl) Revoke(ctx context.Context, token string, ownerID int64) error {
	if err := s.shares.Delete(ctx, token, ownerID); err != nil {
		return err
	}
	s.opts.log.Info("share revoked", zap.Int64("owner_id", ownerID))
	return nil
}

// CleanupExpired removes grants that expired before now-retention, so recently
// lapsed tokens keep answering "expired".
func (s *ShareServiceImpl) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.shares.DeleteExpiredBefore(ctx, s.opts.now().Add(-retention))
}
