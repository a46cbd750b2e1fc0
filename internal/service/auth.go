// Package service contains application services for accounts, sessions, files and shares.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/fileshare/internal/cache"
	pkgcrypto "github.com/and161185/fileshare/internal/crypto"
	"github.com/and161185/fileshare/internal/errs"
	"github.com/and161185/fileshare/internal/limiter"
	"github.com/and161185/fileshare/internal/model"
	"github.com/and161185/fileshare/internal/repository"
)

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, username, email, password string) (userID int64, err error)
	// LoginWithIP applies rate-limiting, authenticates the user and opens a session.
	LoginWithIP(ctx context.Context, username, password, ip string) (tokens model.Tokens, user model.User, err error)
	// Authenticate resolves a bearer token to the user ID of a live session.
	Authenticate(ctx context.Context, token string) (userID int64, err error)
	// Logout destroys the session behind token.
	Logout(ctx context.Context, token string) error
	// CleanupSessions removes expired sessions and reports how many.
	CleanupSessions(ctx context.Context) (int64, error)
}

// AuthConfig holds session parameters.
type AuthConfig struct {
	SignKey    []byte
	SessionTTL time.Duration
	// CacheTTL bounds how long a session lookup is served from cache.
	CacheTTL time.Duration
}

const (
	sessionIDBytes = 32
	tokenLeeway    = 30 * time.Second
)

type AuthServiceImpl struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	lim      limiter.Limiter
	cache    cache.Cacher
	cfg      AuthConfig
	opts     options
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	lim limiter.Limiter,
	c cache.Cacher,
	cfg AuthConfig,
	opts ...Option,
) *AuthServiceImpl {
	if c == nil {
		c = cache.Nop{}
	}
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &AuthServiceImpl{users: users, sessions: sessions, lim: lim, cache: c, cfg: cfg, opts: buildOptions(opts)}
}

// Register validates input and creates a user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, email, password string) (int64, error) {
	in := registerInput{Username: username, Email: email, Password: password}
	if err := validate.Struct(in); err != nil {
		return 0, validationError(err)
	}
	hash, salt, err := pkgcrypto.NewPasswordHash(password)
	if err != nil {
		return 0, err
	}
	u := &model.User{
		Username: username,
		Email:    email,
		PwdHash:  hash,
		SaltAuth: salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return 0, err
	}
	s.opts.log.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return u.ID, nil
}

// LoginWithIP authenticates with rate limiting by (username, ip) and opens a session.
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, wait, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.RateLimited(wait)
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	if err != nil || !pkgcrypto.VerifyPassword(password, u.SaltAuth, u.PwdHash) {
		if blocked, wait, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.RateLimited(wait)
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, username, ipHash)

	tokens, err := s.openSession(ctx, u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tokens, *u, nil
}

func (s *AuthServiceImpl) openSession(ctx context.Context, userID int64) (model.Tokens, error) {
	sid, err := pkgcrypto.RandToken(sessionIDBytes)
	if err != nil {
		return model.Tokens{}, err
	}
	now := s.opts.now()
	sess := &model.Session{ID: sid, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(s.cfg.SessionTTL)}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return model.Tokens{}, fmt.Errorf("create session: %w", err)
	}
	signed, err := s.issueAccessToken(sess)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: sess.ExpiresAt}, nil
}

// issueAccessToken creates a signed HS256 JWT naming the session (jti) and user (sub).
func (s *AuthServiceImpl) issueAccessToken(sess *model.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sess.ID,
		Subject:   strconv.FormatInt(sess.UserID, 10),
		IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SignKey)
}

// parseToken verifies signature and time claims and returns the session and user IDs.
func (s *AuthServiceImpl) parseToken(token string) (string, int64, error) {
	if token == "" {
		return "", 0, errs.ErrUnauthorized
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.SignKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.opts.now),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", 0, errs.ErrUnauthorized
	}
	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || claims.ID == "" {
		return "", 0, errs.ErrUnauthorized
	}
	return claims.ID, uid, nil
}

type cachedSession struct {
	UserID    int64     `msgpack:"u"`
	ExpiresAt time.Time `msgpack:"e"`
}

func sessionKey(id string) string { return "session:" + id }

// Authenticate checks the token and that its session is still live.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token string) (int64, error) {
	sid, uid, err := s.parseToken(token)
	if err != nil {
		return 0, err
	}
	now := s.opts.now()

	var cs cachedSession
	if err := s.cache.Get(ctx, sessionKey(sid), &cs); err == nil {
		if cs.UserID == uid && now.Before(cs.ExpiresAt) {
			return uid, nil
		}
		return 0, errs.ErrUnauthorized
	} else if !errors.Is(err, cache.ErrMiss) {
		s.opts.log.Warn("session cache get", zap.Error(err))
	}

	sess, err := s.sessions.Get(ctx, sid)
	if errors.Is(err, errs.ErrNotFound) {
		return 0, errs.ErrUnauthorized
	}
	if err != nil {
		return 0, err
	}
	if sess.UserID != uid || sess.Expired(now) {
		return 0, errs.ErrUnauthorized
	}

	ttl := min(s.cfg.CacheTTL, sess.ExpiresAt.Sub(now))
	if err := s.cache.Set(ctx, sessionKey(sid), cachedSession{UserID: uid, ExpiresAt: sess.ExpiresAt}, ttl); err != nil {
		s.opts.log.Warn("session cache set", zap.Error(err))
	}
	return uid, nil
}

// Logout deletes the session row and evicts its cache entry.
func (s *AuthServiceImpl) Logout(ctx context.Context, token string) error {
	sid, _, err := s.parseToken(token)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sid); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, sessionKey(sid)); err != nil {
		s.opts.log.Warn("session cache delete", zap.Error(err))
	}
	return nil
}

// CleanupSessions deletes sessions whose expiry has passed.
func (s *AuthServiceImpl) CleanupSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.opts.now())
}
