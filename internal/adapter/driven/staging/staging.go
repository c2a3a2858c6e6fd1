// Package staging persists input images before they are sent for editing.
package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StagingArea = (*Dir)(nil)

// ErrInvalidName is returned when a filename has no usable base component.
var ErrInvalidName = errors.New("invalid staging filename")

// Dir stages files in a local directory. Writes are atomic: a reader never
// sees a partially written file, and an existing file of the same name is
// replaced.
type Dir struct {
	root string
}

// NewDir creates the directory if needed and returns a Dir rooted at it.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create staging directory %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// Put writes data to root/base(filename) and returns that path.
func (d *Dir) Put(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := cleanName(filename)
	if err != nil {
		return "", err
	}

	path := filepath.Join(d.root, name)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// cleanName strips any directory components, accepting both separators.
func cleanName(filename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	return name, nil
}
