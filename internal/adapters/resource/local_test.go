package resource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grainery.core/internal/core/domain"
)

func TestCanRead(t *testing.T) {
	r := NewReader("")

	assert.True(t, r.CanRead("file:///photos/roll5/frame1.dng"))
	assert.True(t, r.CanRead("/photos/roll5/frame1.dng"))
	assert.False(t, r.CanRead("rolls/5/frame1.dng"))
	assert.False(t, r.CanRead("http://server/files/frame1.dng"))
}

func TestReadFileSchemeAndAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "frame1.dng")
	require.NoError(t, os.WriteFile(p, []byte("negative-bytes"), 0o644))

	r := NewReader("")
	ctx := context.Background()

	got, err := r.Read(ctx, domain.Locator("file://"+p))
	require.NoError(t, err)
	assert.Equal(t, []byte("negative-bytes"), got)

	got, err = r.Read(ctx, domain.Locator(p))
	require.NoError(t, err)
	assert.Equal(t, []byte("negative-bytes"), got)
}

func TestReadMissingFile(t *testing.T) {
	r := NewReader("")
	_, err := r.Read(context.Background(), domain.Locator(filepath.Join(t.TempDir(), "missing.dng")))
	assert.Error(t, err)
}

func TestReadConfinedToRoot(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "frame1.dng")
	require.NoError(t, os.WriteFile(inside, []byte("ok"), 0o644))

	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))

	r := NewReader(root)
	ctx := context.Background()

	got, err := r.Read(ctx, domain.Locator(inside))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)

	_, err = r.Read(ctx, domain.Locator(outside))
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestReadCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReader("")
	_, err := r.Read(ctx, "/anywhere")
	assert.ErrorIs(t, err, context.Canceled)
}
