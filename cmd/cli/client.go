package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/fileshare/internal/convert"
)

// apiError is a non-2xx answer decoded from the server's error envelope.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server: %s (%d)", e.Message, e.Status)
}

type client struct {
	base  string
	token string
	hc    *http.Client
}

func newClient(base, token string, hc *http.Client) *client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &client{base: strings.TrimRight(base, "/"), token: token, hc: hc}
}

// ---- transport ----

func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // dev only
	}
	if caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func httpClient(caPath string, insecure bool, timeout time.Duration) (*http.Client, error) {
	tc, err := loadTLS(caPath, insecure)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if tc != nil {
		tr.TLSClientConfig = tc
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

func (c *client) send(ctx context.Context, method, path string, body io.Reader, hdr http.Header) (*http.Response, error) {
	return c.sendSized(ctx, method, path, body, -1, hdr)
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &apiError{Status: resp.StatusCode, Message: body.Error}
}

func (c *client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var (
		body io.Reader
		hdr  = http.Header{}
	)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
		hdr.Set("Content-Type", "application/json")
	}
	resp, err := c.send(ctx, method, path, body, hdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ---- endpoints ----

type session struct {
	SessionToken string    `json:"session_token"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (c *client) register(ctx context.Context, username, email, password string) (int64, error) {
	var out struct {
		UserID int64 `json:"user_id"`
	}
	in := map[string]string{"username": username, "email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/register", in, &out); err != nil {
		return 0, err
	}
	return out.UserID, nil
}

func (c *client) login(ctx context.Context, username, password string) (session, error) {
	var out session
	in := map[string]string{"username": username, "password": password}
	err := c.doJSON(ctx, http.MethodPost, "/login", in, &out)
	return out, err
}

func (c *client) logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/logout", nil, nil)
}

func (c *client) upload(ctx context.Context, body io.Reader, size int64, filename, contentType string) (convert.FileInfo, error) {
	hdr := http.Header{}
	hdr.Set("X-Filename", url.PathEscape(filename))
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	if size >= 0 {
		body = io.LimitReader(body, size)
	}
	resp, err := c.sendSized(ctx, http.MethodPost, "/upload", body, size, hdr)
	if err != nil {
		return convert.FileInfo{}, err
	}
	defer resp.Body.Close()
	var out convert.FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return convert.FileInfo{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// sendSized sends with an explicit Content-Length; size < 0 leaves net/http to decide.
func (c *client) sendSized(ctx context.Context, method, path string, body io.Reader, size int64, hdr http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if size >= 0 {
		req.ContentLength = size
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (c *client) files(ctx context.Context) ([]convert.FileInfo, error) {
	var out struct {
		Files []convert.FileInfo `json:"files"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/files", nil, &out)
	return out.Files, err
}

func (c *client) deleteFile(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, "/files/"+strconv.FormatInt(id, 10), nil, nil)
}

type shareParams struct {
	FileID           int64    `json:"file_id"`
	ExpiryHours      *float64 `json:"expiry_hours,omitempty"`
	SharedWithUserID *int64   `json:"shared_with_user_id,omitempty"`
}

func (c *client) share(ctx context.Context, p shareParams) (convert.ShareInfo, error) {
	var out convert.ShareInfo
	err := c.doJSON(ctx, http.MethodPost, "/share", p, &out)
	return out, err
}

func (c *client) revoke(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodDelete, "/share/"+url.PathEscape(token), nil, nil)
}

func (c *client) sharedWithMe(ctx context.Context) ([]convert.SharedFileInfo, error) {
	var out struct {
		SharedFiles []convert.SharedFileInfo `json:"shared_files"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/shared-with-me", nil, &out)
	return out.SharedFiles, err
}

// download is an open file body plus the server-suggested name.
type download struct {
	Filename string
	Size     int64
	Body     io.ReadCloser
}

func (c *client) downloadFile(ctx context.Context, id int64) (download, error) {
	return c.fetch(ctx, "/download/"+strconv.FormatInt(id, 10))
}

func (c *client) downloadShared(ctx context.Context, token string) (download, error) {
	return c.fetch(ctx, "/shared/"+url.PathEscape(token))
}

func (c *client) fetch(ctx context.Context, path string) (download, error) {
	resp, err := c.send(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return download{}, err
	}
	return download{
		Filename: attachmentName(resp.Header.Get("Content-Disposition")),
		Size:     resp.ContentLength,
		Body:     resp.Body,
	}, nil
}

// attachmentName extracts the filename parameter; mime decodes filename*.
func attachmentName(cd string) string {
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	return params["filename"]
}
