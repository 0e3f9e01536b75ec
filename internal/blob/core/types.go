// Package core holds the object storage contract that report artifacts are
// written through, shared by the fs, s3 and memory drivers.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"
)

// Driver names a storage backend in configuration.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// PutOptions carries the content type and flat user metadata of a write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions selects the method (GET only) and lifetime of a signed
// URL. Drivers pick their own default lifetime when Expiry is zero.
type SignedURLOptions struct {
	Method string
	Expiry time.Duration
}

// Info is what a driver knows about a stored artifact.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store writes artifacts once and reads them back. Put fails with ErrExists
// on an existing key; Delete reports whether the key was present; List
// returns keys under prefix in lexical order.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	ErrUnsupported = errors.New("blob: operation not supported by driver")
	ErrExists      = errors.New("blob: key exists")
	ErrNotFound    = errors.New("blob: key not found")
	ErrInvalidKey  = errors.New("blob: invalid key")
)

// ValidateKey rejects keys every driver refuses: blank keys and keys that
// climb out of their prefix.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q contains '..'", ErrInvalidKey, key)
		}
	}
	return nil
}

// CloneMetadata copies user metadata; nil stays nil.
func CloneMetadata(in map[string]string) map[string]string {
	return maps.Clone(in)
}
