// Package storage keeps uploaded documents on the local filesystem or S3.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"utilitysign/internal/model"

	"github.com/oklog/ulid/v2"
)

// Documents stores uploaded documents under the file policy
type Documents struct {
	store  Storage
	policy FilePolicy
	prefix string
	now    func() time.Time
}

func NewDocuments(store Storage, policy FilePolicy) *Documents {
	return &Documents{
		store:  store,
		policy: policy,
		prefix: "documents",
		now:    time.Now,
	}
}

// Store validates and saves one upload, returning the document reference
func (d *Documents) Store(ctx context.Context, fileName, contentType string, r io.Reader) (*model.Document, error) {
	fileName = path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if err := d.policy.ValidateFile(fileName, contentType); err != nil {
		return nil, err
	}

	limit := d.policy.MaxBytes()
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	var buf bytes.Buffer
	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(&buf, hash), r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if size == 0 {
		return nil, ErrEmptyFile
	}
	if limit > 0 && size > limit {
		return nil, fmt.Errorf("%w: maximum %.0f MB", ErrFileTooLarge, d.policy.MaxFileMB)
	}

	id := ulid.Make().String()
	key := path.Join(d.prefix, id, fileName)
	if err := d.store.Put(ctx, key, contentType, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	return &model.Document{
		ID:          id,
		Title:       strings.TrimSuffix(fileName, path.Ext(fileName)),
		FileName:    fileName,
		ObjectKey:   key,
		ContentType: contentType,
		Size:        size,
		SHA256:      hex.EncodeToString(hash.Sum(nil)),
		UploadedAt:  d.now().UTC(),
	}, nil
}

// Discard removes a stored document. Documents without an object (order
// references) are ignored.
func (d *Documents) Discard(ctx context.Context, doc *model.Document) error {
	if doc == nil || doc.ObjectKey == "" {
		return nil
	}
	return d.store.Delete(ctx, doc.ObjectKey)
}

// URL returns a time-limited download URL for doc
func (d *Documents) URL(ctx context.Context, doc *model.Document, expiresIn time.Duration) (string, error) {
	return d.store.PresignGet(ctx, doc.ObjectKey, expiresIn)
}
