package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/and161185/fileshare/internal/blob"
	"github.com/and161185/fileshare/internal/errs"
	"github.com/and161185/fileshare/internal/limiter"
	"github.com/and161185/fileshare/internal/model"
	"github.com/and161185/fileshare/internal/repository"
)

type fakeUsers struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers() *fakeUsers { return &fakeUsers{byName: map[string]*model.User{}} }

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	f.nextID++
	u.ID = f.nextID
	u.CreatedAt = time.Now()
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

// add inserts a user without hashing, for share tests.
func (f *fakeUsers) add(name string) int64 {
	u := &model.User{Username: name}
	_ = f.Create(context.Background(), u)
	return u.ID
}

type fakeSessions struct {
	mu       sync.Mutex
	byID     map[string]model.Session
	getCalls int
}

var _ repository.SessionRepository = (*fakeSessions)(nil)

func newFakeSessions() *fakeSessions { return &fakeSessions{byID: map[string]model.Session{}} }

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[s.ID]; ok {
		return errs.ErrAlreadyExists
	}
	f.byID[s.ID] = *s
	return nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	s, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}

func (f *fakeSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.byID {
		if s.Expired(now) {
			delete(f.byID, id)
			n++
		}
	}
	return n, nil
}

type fakeLimiter struct {
	allowOK   bool
	allowWait time.Duration
	allowErr  error

	failBlocked bool
	failWait    time.Duration
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, l.allowWait, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, l.failWait, l.failErr
}

type fakeFiles struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]model.File
	clock  func() time.Time

	createErr error
}

var _ repository.FileRepository = (*fakeFiles)(nil)

func newFakeFiles() *fakeFiles { return &fakeFiles{byID: map[int64]model.File{}, clock: time.Now} }

func (f *fakeFiles) Create(_ context.Context, file *model.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	file.ID = f.nextID
	file.UploadedAt = f.clock()
	f.byID[file.ID] = *file
	return nil
}

func (f *fakeFiles) Get(_ context.Context, id int64) (*model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &file, nil
}

func (f *fakeFiles) ListByOwner(_ context.Context, ownerID int64) ([]model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.File, 0)
	for _, file := range f.byID {
		if file.OwnerID == ownerID {
			out = append(out, file)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeFiles) Delete(_ context.Context, id, ownerID int64) (*model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if file.OwnerID != ownerID {
		return nil, errs.ErrForbidden
	}
	delete(f.byID, id)
	return &file, nil
}

// add stores metadata for a file owned by ownerID with a matching blob key.
func (f *fakeFiles) add(ownerID int64, name, key string) int64 {
	file := &model.File{OwnerID: ownerID, Filename: name, ContentType: "text/plain", StorageKey: key}
	_ = f.Create(context.Background(), file)
	return file.ID
}

type fakeShares struct {
	mu      sync.Mutex
	byToken map[string]model.ShareGrant
	files   *fakeFiles
	users   *fakeUsers
	seq     int

	// collide makes Create report a token collision this many times.
	collide int
}

var _ repository.ShareRepository = (*fakeShares)(nil)

func newFakeShares(files *fakeFiles, users *fakeUsers) *fakeShares {
	return &fakeShares{byToken: map[string]model.ShareGrant{}, files: files, users: users}
}

func (f *fakeShares) Create(_ context.Context, g *model.ShareGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(g)
}

func (f *fakeShares) CreatePrivateOnce(_ context.Context, g *model.ShareGrant, now time.Time) (bool, error) {
	p, ok := g.Audience.(model.PrivateAudience)
	if !ok {
		return false, errors.New("not a private grant")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.activePrivate(p.UserID, now) {
		if existing.FileID == g.FileID {
			*g = existing
			return false, nil
		}
	}
	if err := f.insertLocked(g); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeShares) insertLocked(g *model.ShareGrant) error {
	if f.collide > 0 {
		f.collide--
		return errs.ErrAlreadyExists
	}
	if _, ok := f.byToken[g.Token]; ok {
		return errs.ErrAlreadyExists
	}
	f.seq++
	// created_at strictly increases so ordering is deterministic
	g.CreatedAt = time.Unix(int64(f.seq), 0)
	f.byToken[g.Token] = *g
	return nil
}

func (f *fakeShares) GetByToken(_ context.Context, token string) (*model.ShareGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.byToken[token]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &g, nil
}

func (f *fakeShares) activePrivate(userID int64, now time.Time) []model.ShareGrant {
	var out []model.ShareGrant
	for _, g := range f.byToken {
		if p, ok := g.Audience.(model.PrivateAudience); ok && p.UserID == userID && !g.Expired(now) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeShares) FindActivePrivate(_ context.Context, fileID, userID int64, now time.Time) (*model.ShareGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.activePrivate(userID, now) {
		if g.FileID == fileID {
			return &g, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeShares) ListSharedWith(ctx context.Context, userID int64, now time.Time) ([]model.SharedFile, error) {
	f.mu.Lock()
	grants := f.activePrivate(userID, now)
	f.mu.Unlock()

	out := make([]model.SharedFile, 0, len(grants))
	for _, g := range grants {
		file, err := f.files.Get(ctx, g.FileID)
		if err != nil {
			continue
		}
		owner, err := f.users.GetByID(ctx, g.CreatedBy)
		if err != nil {
			return nil, err
		}
		out = append(out, model.SharedFile{File: *file, Token: g.Token, SharedBy: owner.Username, ExpiresAt: g.ExpiresAt, CreatedAt: g.CreatedAt})
	}
	return out, nil
}

func (f *fakeShares) Delete(_ context.Context, token string, ownerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.byToken[token]
	if !ok {
		return errs.ErrNotFound
	}
	if g.CreatedBy != ownerID {
		return errs.ErrForbidden
	}
	delete(f.byToken, token)
	return nil
}

func (f *fakeShares) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for tok, g := range f.byToken {
		if g.ExpiresAt != nil && g.ExpiresAt.Before(cutoff) {
			delete(f.byToken, tok)
			n++
		}
	}
	return n, nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

var _ blob.Store = (*fakeBlobs)(nil)

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: map[string][]byte{}} }

func (f *fakeBlobs) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = b
	return nil
}

func (f *fakeBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
