// Package memory is an in-process metadata store, used by tests and by
// setups that do not need durable metadata.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nandoflorestan/keepluggable/internal/action"
	"github.com/nandoflorestan/keepluggable/internal/domain"
	internal_errors "github.com/nandoflorestan/keepluggable/internal/errors"
	"github.com/nandoflorestan/keepluggable/internal/storage"
)

type Storage struct {
	mu    sync.RWMutex
	seq   domain.FileId
	files map[string]map[string]*domain.FileMetadata // namespace -> fingerprint -> record
}

var _ action.MetadataStorage = (*Storage)(nil)

func New() *Storage {
	return &Storage{files: make(map[string]map[string]*domain.FileMetadata)}
}

// clone detaches a record from store-owned memory.
func clone(md *domain.FileMetadata) *domain.FileMetadata {
	out := *md
	if md.ImageWidth != nil {
		w := *md.ImageWidth
		out.ImageWidth = &w
	}
	if md.ImageHeight != nil {
		h := *md.ImageHeight
		out.ImageHeight = &h
	}
	if md.OriginalId != nil {
		id := *md.OriginalId
		out.OriginalId = &id
	}
	out.Versions = nil
	out.Href = ""
	return &out
}

func (s *Storage) Put(ctx context.Context, namespace string, md *domain.FileMetadata) (*domain.FileMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.files[namespace]
	if !ok {
		ns = make(map[string]*domain.FileMetadata)
		s.files[namespace] = ns
	}

	if existing, ok := ns[md.Fingerprint]; ok {
		record := clone(md)
		record.Id = existing.Id
		record.Created = existing.Created
		ns[md.Fingerprint] = record
		return clone(record), false, nil
	}

	s.seq++
	record := clone(md)
	record.Id = s.seq
	record.Created = time.Now().UTC()
	ns[md.Fingerprint] = record
	return clone(record), true, nil
}

func (s *Storage) Get(ctx context.Context, namespace, fprint string) (*domain.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.files[namespace][fprint]
	if !ok {
		return nil, nil
	}
	out := clone(record)
	out.Versions = s.versionsOf(namespace, record.Id)
	return out, nil
}

// versionsOf collects derived records, ascending by image width.
// Callers must hold at least the read lock.
func (s *Storage) versionsOf(namespace string, id domain.FileId) []*domain.FileMetadata {
	versions := []*domain.FileMetadata{}
	for _, record := range s.files[namespace] {
		if record.OriginalId != nil && *record.OriginalId == id {
			versions = append(versions, clone(record))
		}
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return width(versions[i]) < width(versions[j])
	})
	return versions
}

func width(md *domain.FileMetadata) int {
	if md.ImageWidth == nil {
		return 0
	}
	return *md.ImageWidth
}

func (s *Storage) GenAll(ctx context.Context, namespace string, filters *domain.Filters) ([]*domain.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.FileMetadata{}
	for _, record := range s.files[namespace] {
		if filters != nil {
			if filters.Version != "" && record.Version != filters.Version {
				continue
			}
			if filters.OriginalId != nil &&
				(record.OriginalId == nil || *record.OriginalId != *filters.OriginalId) {
				continue
			}
		}
		out = append(out, clone(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (s *Storage) Update(ctx context.Context, namespace string, id domain.FileId, fields map[string]any) (*domain.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.files[namespace] {
		if record.Id == id {
			if err := storage.ApplyFields(record, fields); err != nil {
				return nil, err
			}
			return clone(record), nil
		}
	}
	return nil, fmt.Errorf("file #%d in namespace %s: %w", id, namespace, internal_errors.ErrNotFound)
}

func (s *Storage) Delete(ctx context.Context, namespace, fprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files[namespace], fprint)
	return nil
}
