// Package storage persists session artifacts (object storage) and session
// bookkeeping (relational metadata).
package storage

import (
	"bytes"
	"context"
	"io"
	"time"
)

// ObjectStore stores exported artifacts.
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error
	PutFile(ctx context.Context, key, filePath string, opts ...PutOption) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	GeneratePresignedURL(ctx context.Context, key string, expiry time.Duration, opts ...URLOption) (string, error)
	HealthCheck(ctx context.Context) error
}

// PutBytes uploads an in-memory blob.
func PutBytes(ctx context.Context, store ObjectStore, key string, data []byte, opts ...PutOption) error {
	return store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts...)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	ContentType  string
}

// PutOption configures Put operations.
type PutOption interface {
	applyPut(*putOptions)
}

type putOptions struct {
	ContentType  string
	Metadata     map[string]string
	CacheControl string
}

// URLOption configures presigned URLs.
type URLOption interface {
	applyURL(*urlOptions)
}

type urlOptions struct {
	ContentType        string
	ContentDisposition string
}

type contentTypeOption string

func (o contentTypeOption) applyPut(opts *putOptions) { opts.ContentType = string(o) }
func (o contentTypeOption) applyURL(opts *urlOptions) { opts.ContentType = string(o) }

type metadataOption map[string]string

func (o metadataOption) applyPut(opts *putOptions) { opts.Metadata = o }

type cacheControlOption string

func (o cacheControlOption) applyPut(opts *putOptions) { opts.CacheControl = string(o) }

type contentDispositionOption string

func (o contentDispositionOption) applyURL(opts *urlOptions) { opts.ContentDisposition = string(o) }

// WithContentType sets the object's or the response's content type.
func WithContentType(contentType string) interface {
	PutOption
	URLOption
} {
	return contentTypeOption(contentType)
}

// WithMetadata attaches user metadata to an upload.
func WithMetadata(metadata map[string]string) PutOption {
	return metadataOption(metadata)
}

// WithCacheControl sets Cache-Control on an upload.
func WithCacheControl(cacheControl string) PutOption {
	return cacheControlOption(cacheControl)
}

// WithContentDisposition makes a presigned URL download as a named file.
func WithContentDisposition(disposition string) URLOption {
	return contentDispositionOption(disposition)
}

// StorageError represents a storage operation error
type StorageError struct {
	Op         string
	Key        string
	Err        error
	StatusCode int
	Retryable  bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotExist returns true if the error indicates the object doesn't exist
func IsNotExist(err error) bool {
	if serr, ok := err.(*StorageError); ok {
		return serr.StatusCode == 404
	}
	return false
}
