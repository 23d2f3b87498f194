package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rentora-dev/rentora-api/internal/models"
)

// AgencyRepository handles agency account persistence.
type AgencyRepository struct {
	db *sqlx.DB
}

// NewAgencyRepository constructs the repository.
func NewAgencyRepository(db *sqlx.DB) *AgencyRepository {
	return &AgencyRepository{db: db}
}

// Create inserts a new agency.
func (r *AgencyRepository) Create(ctx context.Context, agency *models.Agency) error {
	if agency.ID == "" {
		agency.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if agency.CreatedAt.IsZero() {
		agency.CreatedAt = now
	}
	agency.UpdatedAt = now

	const query = `INSERT INTO agencies (id, legal_name, contact_email, verified, verified_at, created_at, updated_at)
	VALUES (:id, :legal_name, :contact_email, :verified, :verified_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, agency); err != nil {
		return fmt.Errorf("create agency: %w", err)
	}
	return nil
}

// GetByID retrieves one agency row.
func (r *AgencyRepository) GetByID(ctx context.Context, id string) (*models.Agency, error) {
	const query = `SELECT id, legal_name, contact_email, verified, verified_at, created_at, updated_at FROM agencies WHERE id = $1`
	var agency models.Agency
	if err := r.db.GetContext(ctx, &agency, query, id); err != nil {
		return nil, err
	}
	return &agency, nil
}

// List returns agencies applying filters with total count.
func (r *AgencyRepository) List(ctx context.Context, filter models.AgencyFilter) ([]models.Agency, int, error) {
	baseQuery := `FROM agencies WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Verified != nil {
		conditions = append(conditions, fmt.Sprintf("verified = $%d", len(args)+1))
		args = append(args, *filter.Verified)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(legal_name) LIKE $%d OR LOWER(contact_email) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, legal_name, contact_email, verified, verified_at, created_at, updated_at %s ORDER BY legal_name ASC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)

	var agencies []models.Agency
	if err := r.db.SelectContext(ctx, &agencies, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list agencies: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count agencies: %w", err)
	}

	return agencies, total, nil
}

// SetVerified writes the derived verification flag. verified_at records the
// transition into the verified state and is cleared on the way out.
func (r *AgencyRepository) SetVerified(ctx context.Context, id string, verified bool, at time.Time) error {
	const query = `UPDATE agencies SET
		verified = $2,
		verified_at = CASE WHEN $2 THEN $3 ELSE NULL END,
		updated_at = $3
	WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, verified, at)
	if err != nil {
		return fmt.Errorf("set agency verified: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check agency verified rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
