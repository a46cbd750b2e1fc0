// Package model defines domain entities used by services and repositories.
package model

import (
	"time"
)

// Anonymous is the requester ID of a caller without a session.
const Anonymous int64 = 0

// Tokens collects an issued session token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // session expiry
}

// User represents an account stored on the server. Passwords are never stored in plaintext.
type User struct {
	ID        int64  // PK
	Username  string // unique
	Email     string // optional
	PwdHash   []byte // Argon2id(password, SaltAuth)
	SaltAuth  []byte // per-user auth salt
	CreatedAt time.Time
}

// Session is a live login. ID is the jti of the bearer token.
type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// File is the metadata of an uploaded blob.
type File struct {
	ID          int64
	OwnerID     int64
	Filename    string
	ContentType string
	Size        int64
	Checksum    string // blake3, hex
	StorageKey  string // key in the blob store
	UploadedAt  time.Time
}

// ShareGrant gives access to one file through an unguessable token.
type ShareGrant struct {
	Token     string
	FileID    int64
	CreatedBy int64
	Audience  Audience
	ExpiresAt *time.Time // nil: never expires
	CreatedAt time.Time
}

// Expired reports whether the grant has lapsed at now.
func (g ShareGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// Permits reports whether requesterID may use the grant (expiry aside).
func (g ShareGrant) Permits(requesterID int64) bool {
	switch a := g.Audience.(type) {
	case PublicAudience:
		return true
	case PrivateAudience:
		return requesterID != Anonymous && requesterID == a.UserID
	default:
		return false
	}
}

// SharedFile is an entry of a user's "shared with me" listing.
type SharedFile struct {
	File      File
	Token     string
	SharedBy  string // username of the owner
	ExpiresAt *time.Time
	CreatedAt time.Time
}
