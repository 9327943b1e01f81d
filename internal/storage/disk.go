package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DiskStore keeps proof blobs in a local directory.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &DiskStore{root: abs}, nil
}

func (d *DiskStore) Put(ctx context.Context, name string, data []byte, mimeType string) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write proof file: %w", err)
	}
	return nil
}

func (d *DiskStore) Delete(ctx context.Context, name string) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove proof file: %w", err)
	}
	return nil
}

// resolve joins name onto the root and rejects anything that would land
// outside it.
func (d *DiskStore) resolve(name string) (string, error) {
	path := filepath.Join(d.root, name)
	if filepath.Dir(path) != d.root {
		return "", ErrUnsafePath
	}
	return path, nil
}
