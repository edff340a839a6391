package storage

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

var (
	ErrFileTooLarge      = errors.New("file too large")
	ErrFileTypeForbidden = errors.New("file type not allowed")
	ErrEmptyFile         = errors.New("file is empty")
)

// FilePolicy holds the constraints on uploaded documents
type FilePolicy struct {
	MaxFileMB  float64  `toml:"max_file_mb"`
	MimeTypes  []string `toml:"mime_types"`
	Extensions []string `toml:"extensions"`
}

// DefaultPolicy accepts PDF documents up to 20 MB
func DefaultPolicy() FilePolicy {
	return FilePolicy{
		MaxFileMB:  20,
		MimeTypes:  []string{"application/pdf"},
		Extensions: []string{"pdf"},
	}
}

// MaxBytes returns the size limit in bytes, or 0 when unlimited
func (fp FilePolicy) MaxBytes() int64 {
	return int64(fp.MaxFileMB * 1024 * 1024)
}

// ValidateFile checks name and content type; size is checked while reading
func (fp FilePolicy) ValidateFile(fileName, contentType string) error {
	if len(fp.MimeTypes) > 0 && !fp.matchesMimeType(contentType) {
		return fmt.Errorf("%w: content type %s, allowed %v", ErrFileTypeForbidden, contentType, fp.MimeTypes)
	}
	if len(fp.Extensions) > 0 && !fp.matchesExtension(fileName) {
		return fmt.Errorf("%w: extension of %s, allowed %v", ErrFileTypeForbidden, fileName, fp.Extensions)
	}
	return nil
}

// matchesMimeType supports wildcard patterns like "image/*"
func (fp FilePolicy) matchesMimeType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	for _, allowed := range fp.MimeTypes {
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(mediaType, prefix+"/") {
				return true
			}
		} else if mediaType == allowed {
			return true
		}
	}
	return false
}

func (fp FilePolicy) matchesExtension(fileName string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if ext == "" {
		return false
	}
	for _, allowed := range fp.Extensions {
		if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return true
		}
	}
	return false
}
