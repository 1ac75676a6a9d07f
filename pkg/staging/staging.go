// Package staging moves output files between the local data directory and
// the blob location the storage service imports from.
package staging

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// TYPES
// =============================================================================

const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

// Ref points at staged data. A sliced ref is a prefix whose objects are the
// slices of one table, listed in Parts in lexical order.
type Ref struct {
	Provider string   `json:"provider"`
	Bucket   string   `json:"bucket,omitempty"`
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	Sliced   bool     `json:"isSliced"`
	Size     int64    `json:"sizeBytes"`
	Parts    []string `json:"parts,omitempty"`
}

// Stager uploads local files or sliced directories and fetches them back.
type Stager interface {
	Upload(ctx context.Context, localPath string) (Ref, error)
	Download(ctx context.Context, ref Ref, dst string) error
	// IsDirectory reports whether key names a prefix holding objects.
	IsDirectory(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// ERRORS
// =============================================================================

const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeBucketNotFound      = "E_BUCKET_NOT_FOUND"
	CodeObjectNotFound      = "E_OBJECT_NOT_FOUND"
	CodePermissionDenied    = "E_PERMISSION_DENIED"
	CodeTimeout             = "E_TIMEOUT"
	CodeSourceUnreadable    = "E_SOURCE_UNREADABLE"
	CodeStagingWriteFailed  = "E_STAGING_WRITE_FAILED"
)

// Error wraps staging failures with retryability hints.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

func wrapError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// =============================================================================
// HELPERS
// =============================================================================

// sourceFiles returns the files to upload for localPath: the file itself, or
// every regular file of a sliced directory in lexical order.
func sourceFiles(localPath string) (files []string, sliced bool, err error) {
	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, wrapError(CodeObjectNotFound, false, err)
		}
		return nil, false, wrapError(CodeSourceUnreadable, false, err)
	}
	if !info.IsDir() {
		return []string{localPath}, false, nil
	}
	entries, err := os.ReadDir(localPath)
	if err != nil {
		return nil, true, wrapError(CodeSourceUnreadable, false, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(localPath, e.Name()))
		}
	}
	sort.Strings(files)
	return files, true, nil
}

// objectKey builds "<prefix>/<uuid>/<name>" with no leading slash.
func objectKey(prefix, name string) string {
	return strings.TrimPrefix(path.Join(prefix, uuid.NewString(), name), "/")
}

func sanitizeKey(key string) string {
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	return strings.TrimPrefix(cleaned, "/")
}
