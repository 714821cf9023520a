package collect

import (
	"bytes"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/unicode"
)

func TestIsFB2Head(t *testing.T) {
	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(book("Wide")))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tests := []struct {
		name string
		head []byte
		want bool
	}{
		{"plain", []byte(book("Plain")), true},
		{"bom", append([]byte("\xEF\xBB\xBF"), book("Bom")...), true},
		{"utf16", utf16, true},
		{"prefixed root", []byte(`<?xml version="1.0"?><fb:FictionBook xmlns:fb="x"/>`), true},
		{"html", []byte("<html><body>FictionBook</body></html>"), false},
		{"binary", bytes.Repeat([]byte{0x00, 0xFF}, 64), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFB2Head(tt.head); got != tt.want {
				t.Errorf("isFB2Head() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBookFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		want    bool
	}{
		{"extension and content", "a.fb2", book("A"), true},
		{"extension only", "broken.FB2", "\x01\x02 not xml", true},
		{"content only", "book.xml", book("B"), true},
		{"neither", "notes.txt", "just text", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, filepath.Join(dir, tt.file), tt.content)
			got, err := isBookFile(path)
			if err != nil {
				t.Fatalf("isBookFile() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("isBookFile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBookFile_NonExistent(t *testing.T) {
	if _, err := isBookFile(filepath.Join(t.TempDir(), "missing.fb2")); err == nil {
		t.Error("Expected error for non-existent file, got nil")
	}
}

func TestIsArchiveFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("zip", func(t *testing.T) {
		path := writeZip(t, filepath.Join(dir, "books.zip"), []zipEntry{{"a.fb2", book("A")}})
		got, err := isArchiveFile(path)
		if err != nil {
			t.Fatalf("isArchiveFile() error = %v", err)
		}
		if !got {
			t.Error("isArchiveFile() = false, want true")
		}
	})

	t.Run("zip extension but invalid content", func(t *testing.T) {
		path := writeFile(t, filepath.Join(dir, "fake.zip"), "not a real zip file")
		got, err := isArchiveFile(path)
		if err != nil {
			t.Fatalf("isArchiveFile() error = %v", err)
		}
		if got {
			t.Error("isArchiveFile() = true, want false")
		}
	})

	t.Run("gzip is not supported", func(t *testing.T) {
		path := writeFile(t, filepath.Join(dir, "a.gz"), "\x1f\x8b\x08\x00\x00\x00\x00\x00\x00\x03")
		got, err := isArchiveFile(path)
		if err != nil {
			t.Fatalf("isArchiveFile() error = %v", err)
		}
		if got {
			t.Error("isArchiveFile() = true, want false")
		}
	})

	t.Run("non-existent", func(t *testing.T) {
		if _, err := isArchiveFile(filepath.Join(dir, "missing.zip")); err == nil {
			t.Error("Expected error for non-existent file, got nil")
		}
	})
}
