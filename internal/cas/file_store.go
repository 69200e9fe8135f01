package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// FileStore implements ContentStore on the file system. Objects are stored
// zstd-compressed and verified against their id on read.
type FileStore struct {
	root string
	cfg  CidConfig
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewFileStore creates a file-based store in the given directory.
func NewFileStore(root string, cfg CidConfig) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}

	return &FileStore{root: root, cfg: cfg, enc: enc, dec: dec}, nil
}

// Close releases the compression resources.
func (f *FileStore) Close() error {
	f.dec.Close()
	return f.enc.Close()
}

// getPath returns the file path for a given id.
// The last two characters pick the directory: CID prefixes are shared by every id.
func (f *FileStore) getPath(id string) string {
	if len(id) < 3 {
		return filepath.Join(f.root, "_", id)
	}
	return filepath.Join(f.root, id[len(id)-2:], id)
}

// Ready implements ContentStore.Ready.
func (f *FileStore) Ready(ctx context.Context) error {
	_, err := os.Stat(f.root)
	return err
}

// Config implements ContentStore.Config.
func (f *FileStore) Config() CidConfig { return f.cfg }

// Create implements ContentStore.Create.
func (f *FileStore) Create(ctx context.Context, object any) (string, error) {
	data, err := CanonicalJSON(object)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	id, err := HashBytes(data, f.cfg)
	if err != nil {
		return "", err
	}

	path := f.getPath(id)

	// Content-addressed: an existing file only needs to agree with the new bytes
	if _, err := os.Stat(path); err == nil {
		existing, err := f.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if !bytes.Equal(existing, data) {
			return "", fmt.Errorf("object %s: stored content differs: %w", id, ErrIdentityMismatch)
		}
		return id, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename (atomic operation)
	tmpPath := path + ".tmp"
	compressed := f.enc.EncodeAll(data, nil)
	if err := os.WriteFile(tmpPath, compressed, 0644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename file: %w", err)
	}

	return id, nil
}

// Get implements ContentStore.Get.
func (f *FileStore) Get(ctx context.Context, id string) (json.RawMessage, error) {
	compressed, err := os.ReadFile(f.getPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	data, err := f.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", id, err)
	}

	computed, err := HashBytes(data, f.cfg)
	if err != nil {
		return nil, err
	}
	if computed != id {
		return nil, fmt.Errorf("corrupted object %s (computed %s): %w", id, computed, ErrIdentityMismatch)
	}

	return data, nil
}
