package model

import "fmt"

// Visibility values as stored in file_shares.visibility.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Audience is who a share grant is for. It is either PublicAudience or PrivateAudience.
type Audience interface {
	Visibility() string
	sealed()
}

// PublicAudience grants access to anyone holding the token.
type PublicAudience struct{}

// PrivateAudience grants access only to UserID.
type PrivateAudience struct{ UserID int64 }

func (PublicAudience) Visibility() string  { return VisibilityPublic }
func (PrivateAudience) Visibility() string { return VisibilityPrivate }

func (PublicAudience) sealed()  {}
func (PrivateAudience) sealed() {}

// SharedWith returns the recipient of a private audience, or nil.
func SharedWith(a Audience) *int64 {
	if p, ok := a.(PrivateAudience); ok {
		id := p.UserID
		return &id
	}
	return nil
}

// AudienceFromColumns rebuilds an Audience from its storage columns.
func AudienceFromColumns(visibility string, sharedWith *int64) (Audience, error) {
	switch visibility {
	case VisibilityPublic:
		return PublicAudience{}, nil
	case VisibilityPrivate:
		if sharedWith == nil {
			return nil, fmt.Errorf("private share without recipient")
		}
		return PrivateAudience{UserID: *sharedWith}, nil
	default:
		return nil, fmt.Errorf("unknown visibility %q", visibility)
	}
}
