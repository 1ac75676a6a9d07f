package staging

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
)

// LocalStager stages files under a directory on disk. Used in tests and
// when the storage service shares a filesystem with the loader.
type LocalStager struct {
	root   string
	prefix string
}

// NewLocalStager creates a stager rooted at dir.
func NewLocalStager(root, prefix string) (*LocalStager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "ucl-loader-staging")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapError(CodePermissionDenied, false, err)
	}
	return &LocalStager{root: root, prefix: prefix}, nil
}

func (s *LocalStager) Upload(ctx context.Context, localPath string) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	files, sliced, err := sourceFiles(localPath)
	if err != nil {
		return Ref{}, err
	}

	name := filepath.Base(localPath)
	ref := Ref{Provider: ProviderLocal, Key: objectKey(s.prefix, name), Name: name, Sliced: sliced}
	for _, f := range files {
		key := ref.Key
		if sliced {
			key = path.Join(ref.Key, filepath.Base(f))
			ref.Parts = append(ref.Parts, key)
		}
		n, err := copyFile(f, s.path(key))
		if err != nil {
			return Ref{}, err
		}
		ref.Size += n
	}
	return ref, nil
}

func (s *LocalStager) Download(ctx context.Context, ref Ref, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ref.Sliced {
		_, err := copyFile(s.path(ref.Key), dst)
		return err
	}
	for _, part := range ref.Parts {
		if _, err := copyFile(s.path(part), filepath.Join(dst, path.Base(part))); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalStager) IsDirectory(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapError(CodeSourceUnreadable, false, err)
	}
	return info.IsDir(), nil
}

func (s *LocalStager) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(sanitizeKey(key)))
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, wrapError(CodeObjectNotFound, false, err)
		}
		return 0, wrapError(CodeSourceUnreadable, false, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, wrapError(CodePermissionDenied, false, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, wrapError(CodeStagingWriteFailed, true, err)
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, wrapError(CodeStagingWriteFailed, true, err)
	}
	return n, nil
}
