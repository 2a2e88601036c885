// Package fs is a local filesystem payload storage backend.
//
// It stores payloads in a simple directory scheme, root/namespace/name,
// where name is the content fingerprint plus a MIME-derived extension.
// Meant for development and testing; performance suffers once a
// namespace holds more than a couple thousand files.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nandoflorestan/keepluggable/internal/action"
	"github.com/nandoflorestan/keepluggable/internal/domain"
	internal_errors "github.com/nandoflorestan/keepluggable/internal/errors"
	"github.com/nandoflorestan/keepluggable/internal/storage"
)

const copyBufferSize = 1024 * 1024

type Storage struct {
	rootPath string
	baseURL  string
}

// Ensure Storage implements the interface at compile time.
var _ action.PayloadStorage = (*Storage)(nil)

// New creates the root directory if needed. baseURL prefixes retrieval
// URLs; when empty, URL returns "" (links are not important in shell
// commands and tests).
func New(rootPath, baseURL string) (*Storage, error) {
	// Clean to prevent path traversal like "media/../"
	p := filepath.Clean(rootPath)
	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("creating root storage directory %s: %w", p, err)
	}
	return &Storage{rootPath: p, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *Storage) path(namespace string, md *domain.FileMetadata) string {
	return filepath.Join(s.rootPath, namespace, storage.ObjectName(md))
}

// Put writes the payload to a temp file in the namespace directory and
// renames it into place, so readers never observe a partial payload.
func (s *Storage) Put(ctx context.Context, namespace string, md *domain.FileMetadata, r io.Reader) error {
	fullPath := s.path(namespace, md)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("creating namespace directory: %w", err)
	}

	tmpPath := fullPath + "." + uuid.NewString() + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating payload file: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(dst, r, buf); err != nil {
		dst.Close()
		os.Remove(tmpPath) // best effort
		return fmt.Errorf("writing payload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing payload file: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming payload file: %w", err)
	}
	return nil
}

func (s *Storage) Reader(ctx context.Context, namespace string, md *domain.FileMetadata) (io.ReadCloser, error) {
	file, err := os.Open(s.path(namespace, md))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("payload %s/%s: %w",
				namespace, md.Fingerprint, internal_errors.ErrNotFound)
		}
		return nil, fmt.Errorf("opening payload: %w", err)
	}
	return file, nil
}

// URL returns a static link below baseURL. Local files are neither
// signed nor time-limited, so expiry and secure are ignored.
func (s *Storage) URL(ctx context.Context, namespace string, md *domain.FileMetadata, expiry time.Duration, secure bool) (string, error) {
	if s.baseURL == "" {
		return "", nil
	}
	return s.baseURL + "/" + namespace + "/" + storage.ObjectName(md), nil
}

func (s *Storage) Delete(ctx context.Context, namespace string, mds []*domain.FileMetadata) error {
	for _, md := range mds {
		err := os.Remove(s.path(namespace, md))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting payload %s: %w", md.Fingerprint, err)
		}
	}
	return nil
}
