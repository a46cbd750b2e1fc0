package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/and161185/fileshare/internal/errs"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

type fakeMinio struct {
	put     map[string]string
	removed []string
	statErr error
}

func (f *fakeMinio) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.put[key] = opts.ContentType + ":" + string(b)
	return minio.UploadInfo{Key: key, Size: int64(len(b))}, nil
}

func (f *fakeMinio) StatObject(context.Context, string, string, minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return minio.ObjectInfo{}, f.statErr
}

func (f *fakeMinio) GetObject(context.Context, string, string, minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not expected")
}

func (f *fakeMinio) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, key)
	return nil
}

func TestMinio_PutAndDelete(t *testing.T) {
	fake := &fakeMinio{put: map[string]string{}}
	m := &Minio{client: fake, bucket: "files"}
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "obj", strings.NewReader("data"), 4, "text/plain"))
	require.Equal(t, "text/plain:data", fake.put["obj"])

	require.NoError(t, m.Delete(ctx, "obj"))
	require.Equal(t, []string{"obj"}, fake.removed)
}

func TestMinio_OpenMissing(t *testing.T) {
	fake := &fakeMinio{statErr: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}}
	m := &Minio{client: fake, bucket: "files"}

	_, err := m.Open(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	fake.statErr = minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	_, err = m.Open(context.Background(), "denied")
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "tape"})
	require.Error(t, err)

	s, err := New(context.Background(), Config{Backend: BackendDisk, Dir: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &Disk{}, s)
}
