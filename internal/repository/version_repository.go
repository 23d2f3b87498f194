package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rentora-dev/rentora-api/internal/models"
)

// ErrVersionConflict reports a lost race on the next version number. The
// caller retries the append; the constraint guarantees no number is ever
// assigned twice.
var ErrVersionConflict = errors.New("version number conflict")

const pqUniqueViolation = "23505"

// VersionRepository handles the append-only document version store.
type VersionRepository struct {
	db *sqlx.DB
}

// NewVersionRepository constructs the repository.
func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// Append inserts a new version with the next version number for its
// document. The number is computed inside the insert so concurrent appends
// collide on the UNIQUE (document_id, version_number) constraint instead of
// silently sharing a number; a collision surfaces as ErrVersionConflict.
func (r *VersionRepository) Append(ctx context.Context, version *models.DocumentVersion) error {
	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	if version.UploadedAt.IsZero() {
		version.UploadedAt = time.Now().UTC()
	}
	if version.Status == "" {
		version.Status = models.VersionStatusSubmitted
	}

	const query = `INSERT INTO document_versions
	(id, document_id, version_number, original_filename, content_type, size_bytes, digest, file_path, status, uploaded_by, uploaded_at, note)
	SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5, $6, $7, $8, $9, $10, $11
	FROM document_versions WHERE document_id = $2
	RETURNING version_number`
	err := r.db.QueryRowxContext(ctx, query,
		version.ID,
		version.DocumentID,
		version.OriginalFilename,
		version.ContentType,
		version.SizeBytes,
		version.Digest,
		version.FilePath,
		version.Status,
		version.UploadedBy,
		version.UploadedAt,
		version.Note,
	).Scan(&version.VersionNumber)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrVersionConflict
		}
		return fmt.Errorf("append document version: %w", err)
	}
	return nil
}

// GetByID retrieves one version row.
func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.DocumentVersion, error) {
	const query = `SELECT id, document_id, version_number, original_filename, content_type, size_bytes, digest, file_path,
	status, status_changed_by, status_changed_at, status_comment, uploaded_by, uploaded_at, note
	FROM document_versions WHERE id = $1`
	var version models.DocumentVersion
	if err := r.db.GetContext(ctx, &version, query, id); err != nil {
		return nil, err
	}
	return &version, nil
}

// ListByDocument returns every version of a document, newest first.
func (r *VersionRepository) ListByDocument(ctx context.Context, documentID string) ([]models.DocumentVersion, error) {
	const query = `SELECT id, document_id, version_number, original_filename, content_type, size_bytes, digest, file_path,
	status, status_changed_by, status_changed_at, status_comment, uploaded_by, uploaded_at, note
	FROM document_versions WHERE document_id = $1 ORDER BY version_number DESC`
	var versions []models.DocumentVersion
	if err := r.db.SelectContext(ctx, &versions, query, documentID); err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	return versions, nil
}

// LatestByDocument returns the highest-numbered version of one document,
// or sql.ErrNoRows when the document has no versions yet.
func (r *VersionRepository) LatestByDocument(ctx context.Context, documentID string) (*models.DocumentVersion, error) {
	const query = `SELECT id, document_id, version_number, original_filename, content_type, size_bytes, digest, file_path,
	status, status_changed_by, status_changed_at, status_comment, uploaded_by, uploaded_at, note
	FROM document_versions WHERE document_id = $1 ORDER BY version_number DESC LIMIT 1`
	var version models.DocumentVersion
	if err := r.db.GetContext(ctx, &version, query, documentID); err != nil {
		return nil, err
	}
	return &version, nil
}

// LatestByAgency returns the highest-numbered version of each of the
// agency's documents. Latest is defined by version number, not timestamp.
func (r *VersionRepository) LatestByAgency(ctx context.Context, agencyID string) ([]models.DocumentVersion, error) {
	const query = `SELECT v.id, v.document_id, v.version_number, v.original_filename, v.content_type, v.size_bytes, v.digest, v.file_path,
	v.status, v.status_changed_by, v.status_changed_at, v.status_comment, v.uploaded_by, v.uploaded_at, v.note
	FROM document_versions v
	JOIN agency_documents d ON d.id = v.document_id
	WHERE d.agency_id = $1
	AND v.version_number = (SELECT MAX(version_number) FROM document_versions WHERE document_id = v.document_id)`
	var versions []models.DocumentVersion
	if err := r.db.SelectContext(ctx, &versions, query, agencyID); err != nil {
		return nil, fmt.Errorf("latest versions by agency: %w", err)
	}
	return versions, nil
}

// LatestRowsByAgency returns the aggregator's read model: per document the
// latest version number, status and document type.
func (r *VersionRepository) LatestRowsByAgency(ctx context.Context, agencyID string) ([]models.LatestVersionRow, error) {
	const query = `SELECT v.document_id, d.document_type, v.version_number, v.status
	FROM document_versions v
	JOIN agency_documents d ON d.id = v.document_id
	WHERE d.agency_id = $1
	AND v.version_number = (SELECT MAX(version_number) FROM document_versions WHERE document_id = v.document_id)`
	var rows []models.LatestVersionRow
	if err := r.db.SelectContext(ctx, &rows, query, agencyID); err != nil {
		return nil, fmt.Errorf("latest version rows by agency: %w", err)
	}
	return rows, nil
}

// HistoryByAgency returns the agency's uploads across all documents in
// reverse chronological order.
func (r *VersionRepository) HistoryByAgency(ctx context.Context, agencyID string, limit, offset int) ([]models.VersionHistoryRow, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT v.id, v.document_id, v.version_number, v.original_filename, v.content_type, v.size_bytes, v.digest, v.file_path,
	v.status, v.status_changed_by, v.status_changed_at, v.status_comment, v.uploaded_by, v.uploaded_at, v.note, d.document_type
	FROM document_versions v
	JOIN agency_documents d ON d.id = v.document_id
	WHERE d.agency_id = $1
	ORDER BY v.uploaded_at DESC, v.version_number DESC
	LIMIT %d OFFSET %d`, limit, offset)
	var rows []models.VersionHistoryRow
	if err := r.db.SelectContext(ctx, &rows, query, agencyID); err != nil {
		return nil, fmt.Errorf("version history by agency: %w", err)
	}
	return rows, nil
}

// UpdateStatus overwrites the review fields of a version as a unit. Every
// decision stamps reviewer, timestamp and comment together, whether or not
// the version was decided before.
func (r *VersionRepository) UpdateStatus(ctx context.Context, id string, status models.VersionStatus, changedBy string, comment *string, at time.Time) error {
	const query = `UPDATE document_versions SET status = $2, status_changed_by = $3, status_changed_at = $4, status_comment = $5 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, changedBy, at, comment)
	if err != nil {
		return fmt.Errorf("update version status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check version status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ExistsByFilePath reports whether any version references the given storage
// path. The orphan sweep keeps blobs that metadata still points at.
func (r *VersionRepository) ExistsByFilePath(ctx context.Context, filePath string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM document_versions WHERE file_path = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, filePath); err != nil {
		return false, fmt.Errorf("check version file path: %w", err)
	}
	return exists, nil
}
