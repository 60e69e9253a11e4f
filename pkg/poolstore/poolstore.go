// Package poolstore persists sealed pool blobs as opaque bytes. It never
// interprets the payload -- SealingCore owns that.
package poolstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/enclave/pkg/errs"
)

// Backend is the PoolStore contract: pure byte-in/byte-out.
type Backend interface {
	Put(ctx context.Context, poolID string, data []byte) error
	Get(ctx context.Context, poolID string) ([]byte, error)
	Exists(ctx context.Context, poolID string) (bool, error)
}

// FileStore is a local-filesystem Backend. Put is atomic: it writes to a
// unique temp file in the same directory and renames over the final path,
// so a crash mid-write never leaves a partial pool blob visible to Get.
type FileStore struct {
	root string
}

// NewFileStore creates (if needed) and returns a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.Resource, "PoolStoreInit", err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) Put(ctx context.Context, poolID string, data []byte) error {
	path, err := s.pathFor(poolID)
	if err != nil {
		return err
	}

	tmp := filepath.Join(s.root, fmt.Sprintf(".%s.tmp.%s", poolID, uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.Resource, "PoolStoreWrite", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errs.Wrap(errs.Resource, "PoolStoreWrite", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, poolID string) ([]byte, error) {
	path, err := s.pathFor(poolID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.Resource, "NotFound", fmt.Sprintf("pool %q not found", poolID))
		}
		return nil, errs.Wrap(errs.Resource, "PoolStoreRead", err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, poolID string) (bool, error) {
	path, err := s.pathFor(poolID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errs.Wrap(errs.Resource, "PoolStoreStat", err)
}

// pathFor validates poolID and maps it to a path under root, rejecting any
// identifier that could escape the store directory.
func (s *FileStore) pathFor(poolID string) (string, error) {
	if poolID == "" || strings.ContainsAny(poolID, "/\\") || poolID == "." || poolID == ".." {
		return "", errs.New(errs.Format, "InvalidPoolID", fmt.Sprintf("invalid pool_id %q", poolID))
	}
	return filepath.Join(s.root, poolID+".pool"), nil
}
