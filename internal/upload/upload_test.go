package upload

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// pngHeader is the 8-byte PNG signature followed by an IHDR chunk start.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "uploads"), maxBytes)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveImage(t *testing.T) {
	s := testStore(t, 1<<20)

	stored, err := s.Save(bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !strings.HasPrefix(stored.URL, URLPrefix) || !strings.HasSuffix(stored.URL, ".png") {
		t.Errorf("URL = %q, want /uploads/*.png", stored.URL)
	}
	if stored.MIME != "image/png" {
		t.Errorf("MIME = %q, want image/png", stored.MIME)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(), stored.Path))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, pngHeader) {
		t.Error("stored content differs from upload")
	}
}

func TestSaveRejectsNonImage(t *testing.T) {
	s := testStore(t, 1<<20)

	_, err := s.Save(strings.NewReader("just some text, not a picture"))
	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("Save() error = %v, want ErrNotImage", err)
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d files behind", len(entries))
	}
}

func TestSaveRejectsOversize(t *testing.T) {
	s := testStore(t, 16)

	big := append(append([]byte{}, pngHeader...), make([]byte, 64)...)
	_, err := s.Save(bytes.NewReader(big))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Save() error = %v, want ErrTooLarge", err)
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Errorf("oversize upload left %d files behind", len(entries))
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t, 1<<20)

	stored, err := s.Save(bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(stored.URL); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), stored.Path)); !os.IsNotExist(err) {
		t.Error("file still exists after Delete")
	}
}

func TestDeleteRejectsTraversal(t *testing.T) {
	s := testStore(t, 1<<20)

	for _, p := range []string{"", "../config.toml", "/uploads/../x", "a/b.png", ".."} {
		if err := s.Delete(p); !errors.Is(err, ErrBadPath) {
			t.Errorf("Delete(%q) error = %v, want ErrBadPath", p, err)
		}
	}
}

func TestDetectImage(t *testing.T) {
	if _, ext, ok := DetectImage(pngHeader); !ok || ext != ".png" {
		t.Errorf("DetectImage(png) = %q, %v", ext, ok)
	}
	if _, _, ok := DetectImage([]byte("%PDF-1.7")); ok {
		t.Error("DetectImage(pdf) should not be ok")
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.png", "a.png", false},
		{URLPrefix + "a.png", "a.png", false},
		{"", "", true},
		{URLPrefix, "", true},
		{"../a.png", "", true},
		{`..\a.png`, "", true},
	}
	for _, tt := range tests {
		got, err := Name(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Name(%q) = %q, %v", tt.in, got, err)
		}
	}
}
