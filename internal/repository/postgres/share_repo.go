package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/fileshare/internal/errs"
	"github.com/and161185/fileshare/internal/model"
	"github.com/jackc/pgx/v5"
)

// ShareRepo implements ShareRepository using PostgreSQL.
type ShareRepo struct{ db *DB }

// NewShareRepo constructs a share grant repository.
func NewShareRepo(db *DB) *ShareRepo { return &ShareRepo{db: db} }

const shareColumns = `token, file_id, created_by, visibility, shared_with, expires_at, created_at`

const insertShare = `
INSERT INTO file_shares (token, file_id, created_by, visibility, shared_with, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`

const activePrivateShare = `SELECT ` + shareColumns + ` FROM file_shares
WHERE file_id=$1 AND visibility='private' AND shared_with=$2
  AND (expires_at IS NULL OR expires_at > $3)
ORDER BY created_at DESC
LIMIT 1`

// Create inserts a grant. The UNIQUE index on token rejects collisions.
func (r *ShareRepo) Create(ctx context.Context, g *model.ShareGrant) error {
	return insertGrant(ctx, r.db.Pool.QueryRow, g)
}

// CreatePrivateOnce inserts a private grant unless the recipient already
// holds an unexpired one for the same file; then *g is replaced by that grant
// and created is false. The file row is locked FOR UPDATE, so concurrent
// calls for one file run one after another.
func (r *ShareRepo) CreatePrivateOnce(ctx context.Context, g *model.ShareGrant, now time.Time) (created bool, err error) {
	target, ok := g.Audience.(model.PrivateAudience)
	if !ok {
		return false, fmt.Errorf("create private share: audience is %s", g.Audience.Visibility())
	}
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, `SELECT id FROM files WHERE id=$1 FOR UPDATE`, g.FileID).Scan(&id); err != nil {
			return notFound("lock file", err)
		}
		existing, err := scanShare(tx.QueryRow(ctx, activePrivateShare, g.FileID, target.UserID, now))
		switch {
		case err == nil:
			*g = *existing
			return nil
		case !errors.Is(err, errs.ErrNotFound):
			return err
		}
		if err := insertGrant(ctx, tx.QueryRow, g); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func insertGrant(ctx context.Context, queryRow func(context.Context, string, ...any) pgx.Row, g *model.ShareGrant) error {
	err := queryRow(ctx, insertShare,
		g.Token, g.FileID, g.CreatedBy, g.Audience.Visibility(), model.SharedWith(g.Audience), g.ExpiresAt,
	).Scan(&g.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

// GetByToken selects a grant by its token.
func (r *ShareRepo) GetByToken(ctx context.Context, token string) (*model.ShareGrant, error) {
	q := `SELECT ` + shareColumns + ` FROM file_shares WHERE token=$1`
	return scanShare(r.db.Pool.QueryRow(ctx, q, token))
}

// FindActivePrivate returns the newest unexpired private grant of fileID to userID.
func (r *ShareRepo) FindActivePrivate(ctx context.Context, fileID, userID int64, now time.Time) (*model.ShareGrant, error) {
	return scanShare(r.db.Pool.QueryRow(ctx, activePrivateShare, fileID, userID, now))
}

// ListSharedWith returns unexpired private grants targeting userID with
// file metadata and the sharer's username, newest grant first.
func (r *ShareRepo) ListSharedWith(ctx context.Context, userID int64, now time.Time) ([]model.SharedFile, error) {
	const q = `
SELECT f.id, f.owner_id, f.filename, f.content_type, f.size, f.checksum, f.storage_key, f.uploaded_at,
       s.token, u.username, s.expires_at, s.created_at
FROM file_shares s
JOIN files f ON f.id = s.file_id
JOIN users u ON u.id = s.created_by
WHERE s.visibility='private' AND s.shared_with=$1
  AND (s.expires_at IS NULL OR s.expires_at > $2)
ORDER BY s.created_at DESC, s.token`
	rows, err := r.db.Pool.Query(ctx, q, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list shared files: %w", err)
	}
	defer rows.Close()

	out := make([]model.SharedFile, 0)
	for rows.Next() {
		var sf model.SharedFile
		f := &sf.File
		if err := rows.Scan(
			&f.ID, &f.OwnerID, &f.Filename, &f.ContentType, &f.Size, &f.Checksum, &f.StorageKey, &f.UploadedAt,
			&sf.Token, &sf.SharedBy, &sf.ExpiresAt, &sf.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan shared file: %w", err)
		}
		out = append(out, sf)
	}
	return out, rows.Err()
}

// Delete removes one grant created by ownerID; other grants for the file stay.
func (r *ShareRepo) Delete(ctx context.Context, token string, ownerID int64) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var createdBy int64
		err := tx.QueryRow(ctx, `SELECT created_by FROM file_shares WHERE token=$1 FOR UPDATE`, token).Scan(&createdBy)
		if err != nil {
			return notFound("select share", err)
		}
		if createdBy != ownerID {
			return errs.ErrForbidden
		}
		if _, err := tx.Exec(ctx, `DELETE FROM file_shares WHERE token=$1`, token); err != nil {
			return fmt.Errorf("delete share: %w", err)
		}
		return nil
	})
}

// DeleteExpiredBefore removes grants whose expiry is before cutoff.
func (r *ShareRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM file_shares WHERE expires_at IS NOT NULL AND expires_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired shares: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanShare(row pgx.Row) (*model.ShareGrant, error) {
	var (
		g          model.ShareGrant
		visibility string
		sharedWith *int64
	)
	if err := row.Scan(&g.Token, &g.FileID, &g.CreatedBy, &visibility, &sharedWith, &g.ExpiresAt, &g.CreatedAt); err != nil {
		return nil, notFound("select share", err)
	}
	aud, err := model.AudienceFromColumns(visibility, sharedWith)
	if err != nil {
		return nil, fmt.Errorf("share %s: %w", g.Token, err)
	}
	g.Audience = aud
	return &g, nil
}
