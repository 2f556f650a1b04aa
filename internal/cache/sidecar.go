package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// FileSidecar stores the cache as a JSON object in a local file.
type FileSidecar struct {
	Path string
}

// Load reads the file; a missing file is an empty cache.
func (s FileSidecar) Load(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing cache file: %w", err)
	}
	return entries, nil
}

// Save writes the snapshot to a temp file and renames it into place so a
// crash never leaves a truncated cache behind.
func (s FileSidecar) Save(_ context.Context, entries map[string]string) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("committing cache file: %w", err)
	}
	return nil
}

// GCSSidecar stores the cache as a single JSON object in a bucket.
type GCSSidecar struct {
	Bucket *storage.BucketHandle
	Object string
}

// Load reads the object; a missing object is an empty cache.
func (s GCSSidecar) Load(ctx context.Context) (map[string]string, error) {
	r, err := s.Bucket.Object(s.Object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to open cache object %s: %w", s.Object, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache object %s: %w", s.Object, err)
	}
	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse cache object %s: %w", s.Object, err)
	}
	return entries, nil
}

// Save overwrites the object with the snapshot.
func (s GCSSidecar) Save(ctx context.Context, entries map[string]string) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}
	w := s.Bucket.Object(s.Object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write cache object %s: %w", s.Object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize cache object %s: %w", s.Object, err)
	}
	return nil
}
