package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/rentora-dev/rentora-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestDocumentRepositoryGetOrCreateInsertsOnce(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agency_documents")).
		WithArgs(sqlmock.AnyArg(), "ag-1", models.DocumentTypeTaxID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rows := sqlmock.NewRows([]string{"id", "agency_id", "document_type", "created_at"}).
		AddRow("doc-1", "ag-1", "TAX_ID", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, agency_id, document_type, created_at FROM agency_documents WHERE agency_id = $1")).
		WithArgs("ag-1", models.DocumentTypeTaxID).
		WillReturnRows(rows)

	record, err := repo.GetOrCreate(context.Background(), "ag-1", models.DocumentTypeTaxID)
	require.NoError(t, err)
	require.Equal(t, "doc-1", record.ID)
	require.Equal(t, models.DocumentTypeTaxID, record.DocumentType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryGetOrCreateLostRaceReadsWinner(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)

	// ON CONFLICT DO NOTHING reports zero affected rows when the pair
	// already exists; the select still returns the existing record.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agency_documents")).
		WithArgs(sqlmock.AnyArg(), "ag-1", models.DocumentTypeTaxID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"id", "agency_id", "document_type", "created_at"}).
		AddRow("doc-existing", "ag-1", "TAX_ID", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, agency_id, document_type, created_at FROM agency_documents WHERE agency_id = $1")).
		WithArgs("ag-1", models.DocumentTypeTaxID).
		WillReturnRows(rows)

	record, err := repo.GetOrCreate(context.Background(), "ag-1", models.DocumentTypeTaxID)
	require.NoError(t, err)
	require.Equal(t, "doc-existing", record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryListAllFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	rows := sqlmock.NewRows([]string{"id", "agency_id", "document_type", "created_at", "legal_name"}).
		AddRow("doc-1", "ag-1", "TAX_ID", time.Now(), "Acme Rentals")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT d.id, d.agency_id, d.document_type, d.created_at, a.legal_name")).
		WithArgs("ag-1", models.DocumentTypeTaxID).
		WillReturnRows(rows)

	items, err := repo.ListAll(context.Background(), models.DocumentFilter{
		AgencyID:     "ag-1",
		DocumentType: models.DocumentTypeTaxID,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Acme Rentals", items[0].LegalName)
	require.NoError(t, mock.ExpectationsWereMet())
}
