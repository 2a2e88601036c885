package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandoflorestan/keepluggable/internal/domain"
	internal_errors "github.com/nandoflorestan/keepluggable/internal/errors"
)

func metadata(fprint string) *domain.FileMetadata {
	return &domain.FileMetadata{Fingerprint: fprint, MimeType: "image/png", Length: 4}
}

func TestNew(t *testing.T) {
	t.Run("creates the root directory", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "deep", "media")
		_, err := New(root, "")
		require.NoError(t, err)

		info, err := os.Stat(root)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestPutAndReader(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir(), "")
	require.NoError(t, err)
	md := metadata("aaaa")

	require.NoError(t, s.Put(ctx, "ns", md, strings.NewReader("abcd")))

	r, err := s.Reader(ctx, "ns", md)
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(content))

	t.Run("no leftover temp files", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Join(s.rootPath, "ns"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "aaaa.png", entries[0].Name())
	})

	t.Run("missing payload", func(t *testing.T) {
		_, err := s.Reader(ctx, "ns", metadata("bbbb"))
		assert.True(t, internal_errors.IsNotFound(err))
	})
}

func TestURL(t *testing.T) {
	ctx := context.Background()
	md := metadata("aaaa")

	t.Run("with base url", func(t *testing.T) {
		s, err := New(t.TempDir(), "http://cdn.example.com/media/")
		require.NoError(t, err)
		href, err := s.URL(ctx, "ns", md, time.Hour, true)
		require.NoError(t, err)
		assert.Equal(t, "http://cdn.example.com/media/ns/aaaa.png", href)
	})

	t.Run("without base url", func(t *testing.T) {
		s, err := New(t.TempDir(), "")
		require.NoError(t, err)
		href, err := s.URL(ctx, "ns", md, time.Hour, true)
		require.NoError(t, err)
		assert.Empty(t, href)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir(), "")
	require.NoError(t, err)

	first, second := metadata("aaaa"), metadata("bbbb")
	require.NoError(t, s.Put(ctx, "ns", first, strings.NewReader("1111")))
	require.NoError(t, s.Put(ctx, "ns", second, strings.NewReader("2222")))

	t.Run("removes all payloads in the batch", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "ns", []*domain.FileMetadata{first, second}))
		_, err := s.Reader(ctx, "ns", first)
		assert.True(t, internal_errors.IsNotFound(err))
		_, err = s.Reader(ctx, "ns", second)
		assert.True(t, internal_errors.IsNotFound(err))
	})

	t.Run("absent payloads are ignored", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "ns", []*domain.FileMetadata{metadata("cccc")}))
	})
}
