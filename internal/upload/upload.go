package upload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is the path stored images are served under.
const URLPrefix = "/uploads/"

var (
	ErrNotImage = errors.New("file is not a supported image")
	ErrTooLarge = errors.New("file exceeds upload size limit")
	ErrBadPath  = errors.New("invalid upload path")
)

var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// DetectImage sniffs the leading bytes of a file and returns its MIME type
// and extension. ok is false for anything that is not a supported image.
func DetectImage(head []byte) (mime, ext string, ok bool) {
	mime = http.DetectContentType(head)
	ext, ok = imageTypes[mime]
	return mime, ext, ok
}

// Stored describes a persisted upload.
type Stored struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
}

// Store keeps uploaded images on local disk.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates the upload directory if needed.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the directory files are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save validates r as an image and writes it under a fresh random name.
// Nothing is written when validation fails.
func (s *Store) Save(r io.Reader) (*Stored, error) {
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	mime, ext, ok := DetectImage(head)
	if !ok {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mime)
	}

	name := uuid.NewString() + ext
	dst := filepath.Join(s.dir, name)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(br, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(dst)
		return nil, fmt.Errorf("write upload: %w", copyErr)
	case n > s.maxBytes:
		_ = os.Remove(dst)
		return nil, ErrTooLarge
	case closeErr != nil:
		_ = os.Remove(dst)
		return nil, fmt.Errorf("close upload: %w", closeErr)
	}

	return &Stored{URL: URLPrefix + name, Path: name, MIME: mime, Size: n}, nil
}

// Name returns the stored file name p refers to. p may be the bare name or
// the URL path.
func Name(p string) (string, error) {
	name := strings.TrimPrefix(p, URLPrefix)
	if name == "" || name != path.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", ErrBadPath
	}
	return name, nil
}

// Delete removes a stored upload. p may be the bare name or the URL path.
func (s *Store) Delete(p string) error {
	name, err := Name(p)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}
