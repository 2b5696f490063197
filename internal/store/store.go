// Package store provides artifact writers over the local filesystem and
// S3-compatible object storage.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Writer is the materializer's output target. All writes are whole-file.
type Writer interface {
	// Ensure creates the target before the first write.
	Ensure(ctx context.Context) error
	// Write stores one artifact under name, replacing previous content.
	Write(ctx context.Context, name string, data []byte) error
	// Sub returns a writer rooted at a child of this target.
	Sub(dir string) Writer
}

// Dir writes artifacts into a local directory.
type Dir struct {
	Path string
}

// NewDir returns a writer rooted at path. The directory does not have to
// exist yet; Ensure creates it with its parents.
func NewDir(path string) Dir {
	return Dir{Path: path}
}

func (d Dir) Ensure(_ context.Context) error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", d.Path, err)
	}
	return nil
}

func (d Dir) Write(_ context.Context, name string, data []byte) error {
	target := filepath.Join(d.Path, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

func (d Dir) Sub(dir string) Writer {
	return Dir{Path: filepath.Join(d.Path, dir)}
}
