package repository

import (
	"context"
	"time"

	"github.com/and161185/fileshare/internal/model"
)

// ShareRepository stores share grants.
type ShareRepository interface {
	// Create inserts a grant. Returns errs.ErrAlreadyExists on token collision.
	Create(ctx context.Context, g *model.ShareGrant) error
	// CreatePrivateOnce inserts a private grant unless an unexpired one for the
	// same file and recipient exists, in which case *g becomes that grant and
	// created is false. Concurrent calls never produce two active grants.
	CreatePrivateOnce(ctx context.Context, g *model.ShareGrant, now time.Time) (created bool, err error)
	GetByToken(ctx context.Context, token string) (*model.ShareGrant, error)
	// FindActivePrivate returns the newest unexpired private grant of fileID to userID.
	FindActivePrivate(ctx context.Context, fileID, userID int64, now time.Time) (*model.ShareGrant, error)
	// ListSharedWith returns unexpired private grants targeting userID, newest first.
	ListSharedWith(ctx context.Context, userID int64, now time.Time) ([]model.SharedFile, error)
	// Delete removes a single grant created by ownerID.
	// Returns errs.ErrNotFound or errs.ErrForbidden otherwise.
	Delete(ctx context.Context, token string, ownerID int64) error
	// DeleteExpiredBefore removes grants whose expiry is before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
