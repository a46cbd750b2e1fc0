package httpapi

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/fileshare/internal/convert"
	"github.com/and161185/fileshare/internal/errs"
)

// number is a JSON number that may also arrive as a numeric string, which is
// what browser forms send. Absent, null and "" leave Set false.
type number struct {
	raw string
	Set bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n.raw, n.Set = s, true
	return nil
}

func (n number) Int(field string) (int64, error) {
	v, err := strconv.ParseInt(n.raw, 10, 64)
	if err != nil {
		return 0, errs.Validation(field, "must be an integer")
	}
	return v, nil
}

func (n number) Float(field string) (float64, error) {
	v, err := strconv.ParseFloat(n.raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errs.Validation(field, "must be a number")
	}
	return v, nil
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	envelope
	UserID int64 `json:"user_id"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	envelope
	SessionToken string    `json:"session_token"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type uploadResponse struct {
	envelope
	convert.FileInfo
}

type filesResponse struct {
	envelope
	Files []convert.FileInfo `json:"files"`
}

type shareRequest struct {
	FileID           number `json:"file_id"`
	ExpiryHours      number `json:"expiry_hours"`
	SharedWithUserID number `json:"shared_with_user_id"`
}

type shareResponse struct {
	envelope
	convert.ShareInfo
}

type sharedWithMeResponse struct {
	envelope
	SharedFiles []convert.SharedFileInfo `json:"shared_files"`
}

type healthResponse struct {
	envelope
	Status string `json:"status"`
}
