package postgres

import (
	"context"
	"fmt"

	"github.com/and161185/fileshare/internal/errs"
	"github.com/and161185/fileshare/internal/model"
	"github.com/jackc/pgx/v5"
)

// FileRepo implements FileRepository using PostgreSQL.
type FileRepo struct{ db *DB }

// NewFileRepo constructs a file metadata repository.
func NewFileRepo(db *DB) *FileRepo { return &FileRepo{db: db} }

const fileColumns = `id, owner_id, filename, content_type, size, checksum, storage_key, uploaded_at`

// Create inserts file metadata in a single statement, so a row is visible
// only once the whole upload is complete.
func (r *FileRepo) Create(ctx context.Context, f *model.File) error {
	const q = `
INSERT INTO files (owner_id, filename, content_type, size, checksum, storage_key)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, uploaded_at`
	err := r.db.Pool.QueryRow(ctx, q, f.OwnerID, f.Filename, f.ContentType, f.Size, f.Checksum, f.StorageKey).
		Scan(&f.ID, &f.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// Get selects file metadata by ID.
func (r *FileRepo) Get(ctx context.Context, id int64) (*model.File, error) {
	q := `SELECT ` + fileColumns + ` FROM files WHERE id=$1`
	f, err := scanFile(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound("select file", err)
	}
	return f, nil
}

// ListByOwner returns the owner's files ordered by upload date, newest first.
// id breaks ties so the order is stable.
func (r *FileRepo) ListByOwner(ctx context.Context, ownerID int64) ([]model.File, error) {
	q := `SELECT ` + fileColumns + ` FROM files WHERE owner_id=$1 ORDER BY uploaded_at DESC, id DESC`
	rows, err := r.db.Pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	out := make([]model.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Delete removes the file row when ownerID owns it. Share grants cascade.
func (r *FileRepo) Delete(ctx context.Context, id, ownerID int64) (*model.File, error) {
	var removed *model.File
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		q := `SELECT ` + fileColumns + ` FROM files WHERE id=$1 FOR UPDATE`
		f, err := scanFile(tx.QueryRow(ctx, q, id))
		if err != nil {
			return notFound("select file", err)
		}
		if f.OwnerID != ownerID {
			return errs.ErrForbidden
		}
		if _, err := tx.Exec(ctx, `DELETE FROM files WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete file: %w", err)
		}
		removed = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*model.File, error) {
	var f model.File
	err := row.Scan(&f.ID, &f.OwnerID, &f.Filename, &f.ContentType, &f.Size, &f.Checksum, &f.StorageKey, &f.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
