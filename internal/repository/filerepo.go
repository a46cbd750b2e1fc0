package repository

import (
	"context"

	"github.com/and161185/fileshare/internal/model"
)

// FileRepository stores file metadata. Content lives in a blob.Store.
type FileRepository interface {
	// Create inserts metadata and fills ID and UploadedAt.
	Create(ctx context.Context, f *model.File) error
	Get(ctx context.Context, id int64) (*model.File, error)
	// ListByOwner returns the owner's files, newest first.
	ListByOwner(ctx context.Context, ownerID int64) ([]model.File, error)
	// Delete removes the row if ownerID owns it and returns the removed metadata.
	// Returns errs.ErrNotFound or errs.ErrForbidden otherwise.
	Delete(ctx context.Context, id, ownerID int64) (*model.File, error)
}
