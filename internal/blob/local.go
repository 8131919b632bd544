// Package blob stores uploaded attachment files.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Open for unknown keys.
var ErrNotFound = errors.New("file not found")

// ErrTooLarge is returned by Put when the content exceeds the size limit.
var ErrTooLarge = errors.New("file exceeds the upload size limit")

// ErrEmpty is returned by Put when there is no content.
var ErrEmpty = errors.New("file is empty")

// Object describes a stored file.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// Storage stores and serves attachment files by key.
type Storage interface {
	Put(ctx context.Context, name string, r io.Reader) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, Object, error)
}

// Local keeps files in a directory on disk under random keys.
type Local struct {
	dir     string
	maxSize int64
}

var _ Storage = (*Local)(nil)

// NewLocal creates the directory if needed.
func NewLocal(dir string, maxSize int64) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Local{dir: dir, maxSize: maxSize}, nil
}

// Put writes r under a new key that keeps the extension of name.
func (l *Local) Put(ctx context.Context, name string, r io.Reader) (Object, error) {
	key := uuid.NewString() + strings.ToLower(filepath.Ext(name))
	path := filepath.Join(l.dir, key)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Object{}, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, l.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > l.maxSize {
		err = ErrTooLarge
	}
	if err == nil && n == 0 {
		err = ErrEmpty
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrEmpty) {
			return Object{}, err
		}
		return Object{}, fmt.Errorf("failed to write file: %w", err)
	}

	return Object{Key: key, Size: n, ContentType: contentType(key)}, nil
}

// Open returns the content for key.
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return nil, Object{}, ErrNotFound
	}
	f, err := os.Open(filepath.Join(l.dir, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, fmt.Errorf("failed to stat file: %w", err)
	}
	return f, Object{Key: key, Size: info.Size(), ContentType: contentType(key)}, nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
