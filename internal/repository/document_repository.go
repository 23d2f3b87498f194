package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rentora-dev/rentora-api/internal/models"
)

// DocumentRepository handles the registry of (agency, document type) records.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// GetOrCreate returns the registry record for the pair, creating it if
// absent. The insert relies on the UNIQUE (agency_id, document_type)
// constraint, so two concurrent callers converge on the same row: the loser
// of the insert race reads the winner's record in the follow-up select.
func (r *DocumentRepository) GetOrCreate(ctx context.Context, agencyID string, documentType models.DocumentType) (*models.DocumentRecord, error) {
	const insert = `INSERT INTO agency_documents (id, agency_id, document_type, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (agency_id, document_type) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, insert, uuid.NewString(), agencyID, documentType, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("upsert document record: %w", err)
	}

	const query = `SELECT id, agency_id, document_type, created_at FROM agency_documents WHERE agency_id = $1 AND document_type = $2`
	var record models.DocumentRecord
	if err := r.db.GetContext(ctx, &record, query, agencyID, documentType); err != nil {
		return nil, fmt.Errorf("load document record: %w", err)
	}
	return &record, nil
}

// GetByID retrieves one registry record.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.DocumentRecord, error) {
	const query = `SELECT id, agency_id, document_type, created_at FROM agency_documents WHERE id = $1`
	var record models.DocumentRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByAgency returns every registry record an agency owns.
func (r *DocumentRepository) ListByAgency(ctx context.Context, agencyID string) ([]models.DocumentRecord, error) {
	const query = `SELECT id, agency_id, document_type, created_at FROM agency_documents WHERE agency_id = $1 ORDER BY document_type ASC`
	var records []models.DocumentRecord
	if err := r.db.SelectContext(ctx, &records, query, agencyID); err != nil {
		return nil, fmt.Errorf("list agency documents: %w", err)
	}
	return records, nil
}

// ListAll returns registry records across agencies for admin review queues.
func (r *DocumentRepository) ListAll(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentAdminRow, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT d.id, d.agency_id, d.document_type, d.created_at, a.legal_name
	FROM agency_documents d
	JOIN agencies a ON a.id = d.agency_id`)
	args := make([]interface{}, 0, 2)
	conditions := make([]string, 0, 2)

	if filter.AgencyID != "" {
		args = append(args, filter.AgencyID)
		conditions = append(conditions, fmt.Sprintf("d.agency_id = $%d", len(args)))
	}
	if filter.DocumentType != "" {
		args = append(args, filter.DocumentType)
		conditions = append(conditions, fmt.Sprintf("d.document_type = $%d", len(args)))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY a.legal_name ASC, d.document_type ASC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var rows []models.DocumentAdminRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return rows, nil
}
