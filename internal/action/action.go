// Package action coordinates the upload, deletion, listing and update
// workflows across a payload store and a metadata store.
package action

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nandoflorestan/keepluggable/internal/config"
	"github.com/nandoflorestan/keepluggable/internal/domain"
	internal_errors "github.com/nandoflorestan/keepluggable/internal/errors"
	"github.com/nandoflorestan/keepluggable/internal/fingerprint"
	"github.com/nandoflorestan/keepluggable/internal/logger"
	"github.com/nandoflorestan/keepluggable/internal/metrics"
)

// PayloadStorage stores payload bytes keyed by namespace + fingerprint.
type PayloadStorage interface {
	// Put writes the payload bytes for md.
	Put(ctx context.Context, namespace string, md *domain.FileMetadata, r io.Reader) error

	// Reader opens the stored payload. Absent payloads yield ErrNotFound.
	Reader(ctx context.Context, namespace string, md *domain.FileMetadata) (io.ReadCloser, error)

	// URL returns a retrieval URL, which may be signed and time-limited.
	URL(ctx context.Context, namespace string, md *domain.FileMetadata, expiry time.Duration, secure bool) (string, error)

	// Delete removes many payloads; implementations chunk batches larger
	// than their backend allows.
	Delete(ctx context.Context, namespace string, mds []*domain.FileMetadata) error
}

// MetadataStorage persists FileMetadata records keyed by
// namespace + fingerprint.
type MetadataStorage interface {
	// Put inserts or updates by (namespace, fingerprint), returning the
	// stored record with its assigned identity and whether it is new.
	Put(ctx context.Context, namespace string, md *domain.FileMetadata) (*domain.FileMetadata, bool, error)

	// Get returns one record with its linked versions, or nil when absent.
	Get(ctx context.Context, namespace, fprint string) (*domain.FileMetadata, error)

	// GenAll returns a flat listing: originals and derived versions mixed.
	GenAll(ctx context.Context, namespace string, filters *domain.Filters) ([]*domain.FileMetadata, error)

	// Update replaces the supplied fields of the record with the given id.
	Update(ctx context.Context, namespace string, id domain.FileId, fields map[string]any) (*domain.FileMetadata, error)

	Delete(ctx context.Context, namespace, fprint string) error
}

// VersionStrategy decides how an upload is persisted: as-is, or fanned
// out into derived renditions.
type VersionStrategy interface {
	// StoreVersions persists the upload and fills md.Versions.
	StoreVersions(ctx context.Context, a *Action, payload io.ReadSeeker, md *domain.FileMetadata) error

	// KeepsOriginalPayload reports whether the original's bytes are stored
	// (as opposed to only its metadata row).
	KeepsOriginalPayload() bool
}

// ExistingFileHook runs when an upload's fingerprint already exists in
// the namespace, before any further work. Returning an error aborts the
// upload.
type ExistingFileHook func(ctx context.Context, md, existing *domain.FileMetadata) error

// UpdateValidator validates and normalizes the fields of a metadata
// update. Without one, no validation is performed, which is unsafe.
type UpdateValidator func(fields map[string]any) (map[string]any, error)

// Action coordinates one namespace's file workflows.
type Action struct {
	payloads  PayloadStorage
	metadata  MetadataStorage
	namespace string
	cfg       config.Action

	versions       VersionStrategy
	onExisting     ExistingFileHook
	validateUpdate UpdateValidator
	log            *slog.Logger
}

type Option func(*Action)

func WithVersionStrategy(s VersionStrategy) Option {
	return func(a *Action) { a.versions = s }
}

func WithExistingFileHook(h ExistingFileHook) Option {
	return func(a *Action) { a.onExisting = h }
}

func WithUpdateValidator(v UpdateValidator) Option {
	return func(a *Action) { a.validateUpdate = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Action) { a.log = l }
}

func New(payloads PayloadStorage, metadata MetadataStorage, namespace string, cfg config.Action, opts ...Option) *Action {
	a := &Action{
		payloads:  payloads,
		metadata:  metadata,
		namespace: namespace,
		cfg:       cfg,
		versions:  PassthroughVersions{},
		log:       logger.Log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StoreOriginalFile is the point of entry into the upload workflow.
// md must carry a non-empty FileName; MimeType and Length are optional
// and filled in when absent. The returned record has its derived
// versions attached and retrieval links set.
func (a *Action) StoreOriginalFile(ctx context.Context, payload io.ReadSeeker, md *domain.FileMetadata) (*domain.FileMetadata, error) {
	if md.FileName == "" {
		return nil, internal_errors.Internalf("store_original_file called without a file name")
	}

	md.Version = domain.VersionOriginal
	guessMimeType(md)

	if err := a.fillFingerprint(payload, md); err != nil {
		return nil, err
	}
	if err := a.checkExisting(ctx, md); err != nil {
		return nil, err
	}
	if err := a.allowStorage(md); err != nil {
		return nil, err
	}
	if err := a.versions.StoreVersions(ctx, a, payload, md); err != nil {
		return nil, err
	}
	return a.complement(ctx, md)
}

// guessMimeType trusts a caller-supplied value; otherwise it guesses
// from the file name's extension.
func guessMimeType(md *domain.FileMetadata) {
	if md.MimeType != "" {
		return
	}
	extension := strings.ToLower(filepath.Ext(md.FileName))
	if extension == ".heic" || extension == ".heif" {
		// missing from common OS mime tables
		md.MimeType = "image/heic"
		return
	}
	if typ := mime.TypeByExtension(extension); typ != "" {
		md.MimeType = typ
	}
}

func (a *Action) fillFingerprint(payload io.ReadSeeker, md *domain.FileMetadata) error {
	if md.Length == 0 {
		length, err := fingerprint.Length(payload)
		if err != nil {
			return err
		}
		md.Length = length
	}
	fprint, length, err := fingerprint.Compute(payload)
	if err != nil {
		return err
	}
	if length != md.Length {
		// The stream was read or truncated unexpectedly between steps.
		return internal_errors.Internalf("payload of %q is %d bytes but %d were recorded",
			md.FileName, length, md.Length)
	}
	md.Fingerprint = fprint
	return nil
}

// checkExisting queries for content with the same fingerprint and runs
// the existing-file hook when a match is found. It runs again before
// every physical store step because image derivation may itself produce
// content identical to something already stored.
func (a *Action) checkExisting(ctx context.Context, md *domain.FileMetadata) error {
	existing, err := a.metadata.Get(ctx, a.namespace, md.Fingerprint)
	if err != nil {
		return fmt.Errorf("checking for existing file: %w", err)
	}
	if existing == nil {
		return nil
	}
	metrics.DuplicateHits.WithLabelValues(a.namespace).Inc()
	a.log.Debug("content already stored",
		"namespace", a.namespace, "fingerprint", md.Fingerprint, "version", md.Version)
	if a.onExisting != nil {
		return a.onExisting(ctx, md, existing)
	}
	return nil
}

func (a *Action) allowStorage(md *domain.FileMetadata) error {
	if maximum := a.cfg.MaxFileSize; maximum > 0 && md.Length > maximum {
		return internal_errors.FileNotAllowedf("the file is %d KB long and the maximum is %d KB",
			md.Length/1024, maximum/1024)
	}
	if !a.cfg.AllowEmptyFiles && md.Length == 0 {
		return internal_errors.FileNotAllowedf("the file is empty")
	}
	return nil
}

// storeFile commits one version (original or derived) to both stores.
// The payload is written first: an orphaned unreferenced blob is a
// better failure mode than a metadata row pointing to a missing payload.
func (a *Action) storeFile(ctx context.Context, payload io.Reader, md *domain.FileMetadata) error {
	if err := a.checkExisting(ctx, md); err != nil {
		return err
	}
	if err := a.payloads.Put(ctx, a.namespace, md, payload); err != nil {
		return fmt.Errorf("storing payload %s: %w", md.Fingerprint, err)
	}
	if err := a.storeMetadata(ctx, md); err != nil {
		if derr := a.payloads.Delete(ctx, a.namespace, []*domain.FileMetadata{md}); derr != nil {
			a.log.Error("compensating payload delete failed",
				"namespace", a.namespace, "fingerprint", md.Fingerprint, "error", derr)
		}
		metrics.PayloadRollbacks.WithLabelValues(a.namespace).Inc()
		return err
	}
	metrics.FilesStored.WithLabelValues(a.namespace, md.Version).Inc()
	metrics.BytesStored.WithLabelValues(a.namespace).Add(float64(md.Length))
	return nil
}

func (a *Action) storeMetadata(ctx context.Context, md *domain.FileMetadata) error {
	stored, _, err := a.metadata.Put(ctx, a.namespace, md)
	if err != nil {
		return fmt.Errorf("storing metadata %s: %w", md.Fingerprint, err)
	}
	md.Id = stored.Id
	md.Created = stored.Created
	return nil
}

// DeleteFile removes an original and all its derived versions from both
// stores. Payloads go first in one batch; metadata rows follow one by
// one, best effort.
func (a *Action) DeleteFile(ctx context.Context, fprint string) error {
	original, err := a.metadata.Get(ctx, a.namespace, fprint)
	if err != nil {
		return fmt.Errorf("looking up file %s: %w", fprint, err)
	}
	if original == nil {
		return fmt.Errorf("file %s: %w", fprint, internal_errors.ErrNotFound)
	}

	all := make([]*domain.FileMetadata, 0, len(original.Versions)+1)
	all = append(all, original.Versions...)
	all = append(all, original)

	if err := a.payloads.Delete(ctx, a.namespace, all); err != nil {
		return fmt.Errorf("deleting payloads of %s: %w", fprint, err)
	}
	for _, md := range all {
		if err := a.metadata.Delete(ctx, a.namespace, md.Fingerprint); err != nil {
			return fmt.Errorf("deleting metadata %s: %w", md.Fingerprint, err)
		}
		metrics.FilesDeleted.WithLabelValues(a.namespace).Inc()
	}
	return nil
}

// GenOriginals returns the originals in the namespace with their version
// lists attached, each sorted ascending by image width.
//
// One flat query, partitioned in memory: this avoids one query per
// original at the cost of loading the whole filtered set, which is fine
// for the modest per-namespace file counts we expect.
func (a *Action) GenOriginals(ctx context.Context, filters *domain.Filters) ([]*domain.FileMetadata, error) {
	universe, err := a.metadata.GenAll(ctx, a.namespace, filters)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	originals := make(map[domain.FileId]*domain.FileMetadata)
	for _, f := range universe {
		if f.Version == domain.VersionOriginal {
			f.Versions = []*domain.FileMetadata{}
			originals[f.Id] = f
		}
	}
	for _, f := range universe {
		if f.Version == domain.VersionOriginal {
			continue
		}
		if f.OriginalId == nil {
			a.log.Warn("derived version lacks original_id",
				"namespace", a.namespace, "fingerprint", f.Fingerprint)
			continue
		}
		parent, ok := originals[*f.OriginalId]
		if !ok {
			a.log.Warn("derived version has no matching original",
				"namespace", a.namespace, "fingerprint", f.Fingerprint)
			continue
		}
		parent.Versions = append(parent.Versions, f)
	}

	out := make([]*domain.FileMetadata, 0, len(originals))
	for _, f := range originals {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })

	for _, f := range out {
		versions := f.Versions
		sort.SliceStable(versions, func(i, j int) bool {
			return imageWidth(versions[i]) < imageWidth(versions[j])
		})
		if _, err := a.complement(ctx, f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func imageWidth(md *domain.FileMetadata) int {
	if md.ImageWidth == nil {
		return 0
	}
	return *md.ImageWidth
}

// UpdateMetadata replaces the supplied fields of the record with the
// given id and returns it with retrieval links re-attached.
func (a *Action) UpdateMetadata(ctx context.Context, id domain.FileId, fields map[string]any) (*domain.FileMetadata, error) {
	if a.validateUpdate != nil {
		var err error
		fields, err = a.validateUpdate(fields)
		if err != nil {
			return nil, err
		}
	}
	md, err := a.metadata.Update(ctx, a.namespace, id, fields)
	if err != nil {
		return nil, err
	}
	if md.Versions == nil {
		md.Versions = []*domain.FileMetadata{}
	}
	return a.complement(ctx, md)
}

// complement adds retrieval links. The original's own link is omitted
// when its payload was not stored.
func (a *Action) complement(ctx context.Context, md *domain.FileMetadata) (*domain.FileMetadata, error) {
	expiry := time.Duration(a.cfg.URLExpirySeconds) * time.Second
	if md.ImageWidth == nil || a.versions.KeepsOriginalPayload() {
		href, err := a.payloads.URL(ctx, a.namespace, md, expiry, a.cfg.SecureURLs)
		if err != nil {
			return nil, fmt.Errorf("building href for %s: %w", md.Fingerprint, err)
		}
		md.Href = href
	}
	for _, version := range md.Versions {
		href, err := a.payloads.URL(ctx, a.namespace, version, expiry, a.cfg.SecureURLs)
		if err != nil {
			return nil, fmt.Errorf("building href for %s: %w", version.Fingerprint, err)
		}
		version.Href = href
	}
	return md, nil
}
