package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/gofrs/uuid/v5"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/and161185/fileshare/internal/blob"
	"github.com/and161185/fileshare/internal/errs"
	"github.com/and161185/fileshare/internal/model"
	"github.com/and161185/fileshare/internal/repository"
)

// Defaults applied to uploads that omit a name or type.
const (
	DefaultFilename    = "uploaded_file"
	DefaultContentType = "application/octet-stream"
	maxFilenameLen     = 255
)

// FileService stores and serves file content for owners and grant holders.
type FileService interface {
	// Upload stores content and records metadata. size is -1 when unknown.
	Upload(ctx context.Context, ownerID int64, filename, contentType string, body io.Reader, size int64) (model.File, error)
	// List returns the owner's files, newest first.
	List(ctx context.Context, ownerID int64) ([]model.File, error)
	// Fetch opens a file for its owner or a holder of an active private grant.
	Fetch(ctx context.Context, fileID, requesterID int64) (model.File, io.ReadCloser, error)
	// Delete removes a file and every grant for it.
	Delete(ctx context.Context, fileID, ownerID int64) error
}

// GrantChecker answers whether a non-owner holds an active grant for a file.
type GrantChecker interface {
	HasActiveGrant(ctx context.Context, fileID, userID int64) (bool, error)
}

type FileServiceImpl struct {
	files    repository.FileRepository
	blobs    blob.Store
	grants   GrantChecker
	maxBytes int64
	opts     options
}

// NewFileService constructs FileService. maxBytes bounds a single upload.
func NewFileService(files repository.FileRepository, blobs blob.Store, grants GrantChecker, maxBytes int64, opts ...Option) *FileServiceImpl {
	return &FileServiceImpl{files: files, blobs: blobs, grants: grants, maxBytes: maxBytes, opts: buildOptions(opts)}
}

// Upload streams body into the blob store while hashing and counting it,
// then inserts the metadata row. The blob is removed if anything fails.
func (s *FileServiceImpl) Upload(ctx context.Context, ownerID int64, filename, contentType string, body io.Reader, size int64) (model.File, error) {
	name, err := cleanFilename(filename)
	if err != nil {
		return model.File{}, err
	}
	ctype := strings.TrimSpace(contentType)
	if ctype == "" {
		ctype = DefaultContentType
	}
	if size > s.maxBytes {
		return model.File{}, errs.ErrTooLarge
	}

	key, err := uuid.NewV4()
	if err != nil {
		return model.File{}, err
	}
	h := blake3.New()
	lr := &limitedReader{r: io.TeeReader(body, h), remaining: s.maxBytes}

	if err := s.blobs.Put(ctx, key.String(), lr, size, ctype); err != nil {
		s.removeBlob(key.String())
		if errors.Is(err, errs.ErrTooLarge) {
			return model.File{}, errs.ErrTooLarge
		}
		return model.File{}, fmt.Errorf("store content: %w", err)
	}

	f := model.File{
		OwnerID:     ownerID,
		Filename:    name,
		ContentType: ctype,
		Size:        lr.read,
		Checksum:    hex.EncodeToString(h.Sum(nil)),
		StorageKey:  key.String(),
	}
	if err := s.files.Create(ctx, &f); err != nil {
		s.removeBlob(f.StorageKey)
		return model.File{}, err
	}
	s.opts.log.Info("file uploaded",
		zap.Int64("file_id", f.ID),
		zap.Int64("owner_id", ownerID),
		zap.Int64("size", f.Size),
	)
	return f, nil
}

func (s *FileServiceImpl) removeBlob(key string) {
	// the request context may already be canceled
	if err := s.blobs.Delete(context.Background(), key); err != nil {
		s.opts.log.Warn("remove orphan blob", zap.String("key", key), zap.Error(err))
	}
}

// List returns the owner's files.
func (s *FileServiceImpl) List(ctx context.Context, ownerID int64) ([]model.File, error) {
	return s.files.ListByOwner(ctx, ownerID)
}

// Fetch returns metadata and content. Non-owners need an active private grant.
func (s *FileServiceImpl) Fetch(ctx context.Context, fileID, requesterID int64) (model.File, io.ReadCloser, error) {
	f, err := s.files.Get(ctx, fileID)
	if err != nil {
		return model.File{}, nil, err
	}
	if f.OwnerID != requesterID {
		ok, err := s.grants.HasActiveGrant(ctx, fileID, requesterID)
		if err != nil {
			return model.File{}, nil, err
		}
		if !ok {
			return model.File{}, nil, errs.ErrForbidden
		}
	}
	rc, err := s.blobs.Open(ctx, f.StorageKey)
	if err != nil {
		return model.File{}, nil, err
	}
	return *f, rc, nil
}

// Delete removes metadata first so the file disappears atomically, then the blob.
func (s *FileServiceImpl) Delete(ctx context.Context, fileID, ownerID int64) error {
	f, err := s.files.Delete(ctx, fileID, ownerID)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, f.StorageKey); err != nil {
		s.opts.log.Warn("delete blob", zap.Int64("file_id", fileID), zap.Error(err))
	}
	s.opts.log.Info("file deleted", zap.Int64("file_id", fileID), zap.Int64("owner_id", ownerID))
	return nil
}

// cleanFilename keeps the base name and rejects control characters.
func cleanFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultFilename, nil
	}
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return "", errs.Validation("filename", "invalid file name")
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return "", errs.Validation("filename", "must not contain control characters")
	}
	if len(name) > maxFilenameLen {
		return "", errs.Validation("filename", "too long")
	}
	return name, nil
}

// limitedReader fails with errs.ErrTooLarge once more than remaining bytes are read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	read      int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errs.ErrTooLarge
	}
	return n, err
}
