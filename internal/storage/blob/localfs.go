package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/watershedlabs/leaksense/pkg/apperrors"
	"github.com/watershedlabs/leaksense/pkg/security"
)

// LocalFS stores .inp files under <dir>/<networkId>.inp, per §6's fixed
// local directory layout.
type LocalFS struct {
	dir       string
	validator *security.InputValidator
}

// NewLocalFS creates a LocalFS rooted at dir, creating it if necessary.
func NewLocalFS(dir string) (*LocalFS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalFS{dir: dir, validator: security.NewInputValidator()}, nil
}

func (l *LocalFS) pathFor(networkID string) (string, error) {
	if err := l.validator.ValidateNoPathTraversal(networkID); err != nil {
		return "", apperrors.InvalidInput("LocalFS", "invalid network id: "+err.Error())
	}
	return filepath.Join(l.dir, networkID+".inp"), nil
}

// Put writes data to <dir>/<networkID>.inp and returns the resulting path.
func (l *LocalFS) Put(ctx context.Context, networkID string, data []byte) (string, error) {
	path, err := l.pathFor(networkID)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// Get reads the .inp file for networkID.
func (l *LocalFS) Get(ctx context.Context, networkID string) ([]byte, error) {
	path, err := l.pathFor(networkID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, apperrors.NotFound("LocalFS.Get", "inp_file", networkID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the .inp file for networkID, ignoring a missing file.
func (l *LocalFS) Delete(ctx context.Context, networkID string) error {
	path, err := l.pathFor(networkID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// PathFor exposes the on-disk path for networkID, used by the matrix
// engine's PathResolver without re-reading the file.
func (l *LocalFS) PathFor(networkID string) string {
	path, err := l.pathFor(networkID)
	if err != nil {
		return ""
	}
	return path
}
