package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/rentchat/internal/chat"
)

// HTTPError is a non-2xx REST response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// UploadResult is the response of POST /upload.
type UploadResult struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// REST calls the chatd REST surface with a bearer credential.
type REST struct {
	base  string
	token string
	http  *http.Client
}

// NewREST creates a REST client for baseURL (e.g. http://localhost:5000).
func NewREST(baseURL, token string, hc *http.Client) *REST {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &REST{base: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

// GetRooms returns the admin inbox, most recent first.
func (c *REST) GetRooms(ctx context.Context) ([]chat.InboxEntry, error) {
	var out []chat.InboxEntry
	if err := c.do(ctx, http.MethodGet, "/chat/rooms", nil, "", &out); err != nil {
		return nil, fmt.Errorf("get rooms: %w", err)
	}
	return out, nil
}

// GetMessages returns a room's history, oldest first.
func (c *REST) GetMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	var out []chat.Message
	if err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(roomID), nil, "", &out); err != nil {
		return nil, fmt.Errorf("get messages %s: %w", roomID, err)
	}
	return out, nil
}

// MarkRead marks the room read for the caller's role.
func (c *REST) MarkRead(ctx context.Context, roomID string) error {
	if err := c.do(ctx, http.MethodPut, "/chat/"+url.PathEscape(roomID)+"/read", nil, "", nil); err != nil {
		return fmt.Errorf("mark read %s: %w", roomID, err)
	}
	return nil
}

// Upload posts an image as multipart field "image".
func (c *REST) Upload(ctx context.Context, name string, r io.Reader) (*UploadResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out UploadResult
	if err := c.do(ctx, http.MethodPost, "/upload", &body, w.FormDataContentType(), &out); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	return &out, nil
}

// DeleteUpload removes a previously uploaded image.
func (c *REST) DeleteUpload(ctx context.Context, path string) error {
	data, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, "/upload", bytes.NewReader(data), "application/json", nil); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

func (c *REST) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		herr := &HTTPError{Status: resp.StatusCode, Message: e.Error}
		if resp.StatusCode == http.StatusUnauthorized {
			return errors.Join(ErrUnauthorized, herr)
		}
		return herr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
