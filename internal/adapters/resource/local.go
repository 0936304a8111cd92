// Package resource reads locators that address the device's own filesystem.
package resource

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"grainery.core/internal/core/domain"
)

const fileScheme = "file://"

// Reader implements ports.LocalReader for file:// locators and absolute
// paths, optionally confined to a root directory.
type Reader struct {
	root string // empty means unconfined
}

func NewReader(root string) *Reader {
	return &Reader{root: root}
}

func (r *Reader) CanRead(loc domain.Locator) bool {
	s := string(loc)
	return strings.HasPrefix(s, fileScheme) || filepath.IsAbs(s)
}

func (r *Reader) Read(ctx context.Context, loc domain.Locator) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := strings.TrimPrefix(string(loc), fileScheme)
	if r.root != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(r.root, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, os.ErrPermission
		}
		p = abs
	}
	return os.ReadFile(p)
}
