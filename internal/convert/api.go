// Package convert maps domain models to the JSON shapes of the HTTP API.
// The same shapes are decoded by the command-line client.
package convert

import (
	"net/url"
	"strings"
	"time"

	"github.com/and161185/fileshare/internal/model"
)

// FileInfo is one entry of an owner's file listing.
type FileInfo struct {
	FileID      int64     `json:"file_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum,omitempty"`
	UploadDate  time.Time `json:"upload_date"`
}

// SharedFileInfo is one entry of the shared-with-me listing.
type SharedFileInfo struct {
	FileInfo
	ShareToken string     `json:"share_token"`
	SharedBy   string     `json:"shared_by"`
	ExpiresAt  *time.Time `json:"expires_at"`
	SharedAt   time.Time  `json:"shared_at"`
}

// ShareInfo describes a created grant.
type ShareInfo struct {
	ShareToken       string     `json:"share_token"`
	ShareURL         string     `json:"share_url"`
	Visibility       string     `json:"visibility"`
	SharedWithUserID *int64     `json:"shared_with_user_id,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

// ToFileInfo converts a file model.
func ToFileInfo(f model.File) FileInfo {
	return FileInfo{
		FileID:      f.ID,
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Size:        f.Size,
		Checksum:    f.Checksum,
		UploadDate:  f.UploadedAt.UTC(),
	}
}

// ToFileInfos converts a listing; the result is never nil so it encodes as [].
func ToFileInfos(files []model.File) []FileInfo {
	out := make([]FileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, ToFileInfo(f))
	}
	return out
}

// ToSharedFileInfos converts the shared-with-me listing.
func ToSharedFileInfos(items []model.SharedFile) []SharedFileInfo {
	out := make([]SharedFileInfo, 0, len(items))
	for _, it := range items {
		out = append(out, SharedFileInfo{
			FileInfo:   ToFileInfo(it.File),
			ShareToken: it.Token,
			SharedBy:   it.SharedBy,
			ExpiresAt:  utcPtr(it.ExpiresAt),
			SharedAt:   it.CreatedAt.UTC(),
		})
	}
	return out
}

// ToShareInfo converts a grant; baseURL prefixes the share link.
func ToShareInfo(g model.ShareGrant, baseURL string) ShareInfo {
	return ShareInfo{
		ShareToken:       g.Token,
		ShareURL:         ShareURL(baseURL, g.Token),
		Visibility:       g.Audience.Visibility(),
		SharedWithUserID: model.SharedWith(g.Audience),
		ExpiresAt:        utcPtr(g.ExpiresAt),
	}
}

// ShareURL joins the public base URL and the token path.
func ShareURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/shared/" + url.PathEscape(token)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
