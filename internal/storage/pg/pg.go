// Package pg stores file metadata in Postgres.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/nandoflorestan/keepluggable/internal/action"
	"github.com/nandoflorestan/keepluggable/internal/config"
	"github.com/nandoflorestan/keepluggable/internal/domain"
	internal_errors "github.com/nandoflorestan/keepluggable/internal/errors"
	"github.com/nandoflorestan/keepluggable/internal/storage"
)

type Storage struct {
	db *sql.DB
}

var _ action.MetadataStorage = (*Storage)(nil)

func New(cfg config.Pg) (*Storage, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func Connect(cfg config.Pg) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

func (s *Storage) Cleanup() error {
	return s.db.Close()
}

// Migrate creates the metadata table. The UNIQUE constraint closes the
// duplicate-check race at the store layer: concurrent identical uploads
// collapse into one row via the upsert in Put.
func (s *Storage) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS file_metadata (
			id           BIGSERIAL PRIMARY KEY,
			namespace    TEXT NOT NULL,
			fingerprint  VARCHAR(32) NOT NULL,
			file_name    VARCHAR(300),
			length       BIGINT NOT NULL,
			mime_type    VARCHAR(255),
			version      VARCHAR(20) NOT NULL DEFAULT 'original',
			original_id  BIGINT REFERENCES file_metadata (id) ON DELETE CASCADE,
			image_width  INTEGER,
			image_height INTEGER,
			created      TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (namespace, fingerprint)
		)`)
	if err != nil {
		return fmt.Errorf("creating file_metadata table: %w", err)
	}
	return nil
}

const columns = "id, fingerprint, file_name, length, mime_type, version, original_id, image_width, image_height, created"

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(row scanner) (*domain.FileMetadata, error) {
	var md domain.FileMetadata
	var fileName, mimeType sql.NullString
	var originalId sql.NullInt64
	var imageWidth, imageHeight sql.NullInt32

	err := row.Scan(&md.Id, &md.Fingerprint, &fileName, &md.Length, &mimeType,
		&md.Version, &originalId, &imageWidth, &imageHeight, &md.Created)
	if err != nil {
		return nil, err
	}
	md.FileName = fileName.String
	md.MimeType = mimeType.String
	if originalId.Valid {
		id := originalId.Int64
		md.OriginalId = &id
	}
	if imageWidth.Valid {
		w := int(imageWidth.Int32)
		md.ImageWidth = &w
	}
	if imageHeight.Valid {
		h := int(imageHeight.Int32)
		md.ImageHeight = &h
	}
	return &md, nil
}

func (s *Storage) Put(ctx context.Context, namespace string, md *domain.FileMetadata) (*domain.FileMetadata, bool, error) {
	var originalId sql.NullInt64
	if md.OriginalId != nil {
		originalId = sql.NullInt64{Int64: *md.OriginalId, Valid: true}
	}
	var imageWidth, imageHeight sql.NullInt32
	if md.ImageWidth != nil {
		imageWidth = sql.NullInt32{Int32: int32(*md.ImageWidth), Valid: true}
	}
	if md.ImageHeight != nil {
		imageHeight = sql.NullInt32{Int32: int32(*md.ImageHeight), Valid: true}
	}

	// xmax = 0 only for rows created by this statement, which tells an
	// insert apart from a conflict-update.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO file_metadata
			(namespace, fingerprint, file_name, length, mime_type, version,
			 original_id, image_width, image_height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (namespace, fingerprint) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			length = EXCLUDED.length,
			mime_type = EXCLUDED.mime_type,
			version = EXCLUDED.version,
			original_id = EXCLUDED.original_id,
			image_width = EXCLUDED.image_width,
			image_height = EXCLUDED.image_height
		RETURNING id, created, (xmax = 0) AS inserted`,
		namespace, md.Fingerprint, md.FileName, md.Length, md.MimeType,
		md.Version, originalId, imageWidth, imageHeight)

	stored := *md
	var created bool
	if err := row.Scan(&stored.Id, &stored.Created, &created); err != nil {
		return nil, false, fmt.Errorf("upserting metadata %s: %w", md.Fingerprint, err)
	}
	return &stored, created, nil
}

func (s *Storage) Get(ctx context.Context, namespace, fprint string) (*domain.FileMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+columns+" FROM file_metadata WHERE namespace = $1 AND fingerprint = $2",
		namespace, fprint)
	md, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting metadata %s: %w", fprint, err)
	}

	id := md.Id
	versions, err := s.GenAll(ctx, namespace, &domain.Filters{OriginalId: &id})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return nullWidth(versions[i]) < nullWidth(versions[j])
	})
	md.Versions = versions
	return md, nil
}

func nullWidth(md *domain.FileMetadata) int {
	if md.ImageWidth == nil {
		return 0
	}
	return *md.ImageWidth
}

func (s *Storage) GenAll(ctx context.Context, namespace string, filters *domain.Filters) ([]*domain.FileMetadata, error) {
	query := "SELECT " + columns + " FROM file_metadata WHERE namespace = $1"
	args := []any{namespace}
	if filters != nil {
		if filters.Version != "" {
			args = append(args, filters.Version)
			query += fmt.Sprintf(" AND version = $%d", len(args))
		}
		if filters.OriginalId != nil {
			args = append(args, *filters.OriginalId)
			query += fmt.Sprintf(" AND original_id = $%d", len(args))
		}
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing metadata: %w", err)
	}
	defer rows.Close()

	out := []*domain.FileMetadata{}
	for rows.Next() {
		md, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning metadata row: %w", err)
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

func (s *Storage) Update(ctx context.Context, namespace string, id domain.FileId, fields map[string]any) (*domain.FileMetadata, error) {
	assignments := make([]string, 0, len(fields))
	args := []any{namespace, id}
	// Stable order keeps generated SQL deterministic.
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !storage.UpdatableFields[key] {
			return nil, fmt.Errorf("field %q is not updatable", key)
		}
		args = append(args, fields[key])
		assignments = append(assignments, fmt.Sprintf("%s = $%d", key, len(args)))
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	row := s.db.QueryRowContext(ctx,
		"UPDATE file_metadata SET "+strings.Join(assignments, ", ")+
			" WHERE namespace = $1 AND id = $2 RETURNING "+columns,
		args...)
	md, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file #%d in namespace %s: %w", id, namespace, internal_errors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("updating metadata #%d: %w", id, err)
	}
	return md, nil
}

func (s *Storage) Delete(ctx context.Context, namespace, fprint string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM file_metadata WHERE namespace = $1 AND fingerprint = $2",
		namespace, fprint)
	if err != nil {
		return fmt.Errorf("deleting metadata %s: %w", fprint, err)
	}
	return nil
}
