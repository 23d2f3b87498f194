package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/rentora-dev/rentora-api/internal/models"
)

func TestVersionRepositoryAppendAssignsNextNumber(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)

	rows := sqlmock.NewRows([]string{"version_number"}).AddRow(3)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO document_versions")).
		WillReturnRows(rows)

	version := &models.DocumentVersion{
		DocumentID:       "doc-1",
		OriginalFilename: "license.pdf",
		ContentType:      "application/pdf",
		SizeBytes:        2048,
		Digest:           "abc123",
		FilePath:         "documents/ag-1/TAX_ID/1_x.pdf",
		UploadedBy:       "user-1",
	}
	require.NoError(t, repo.Append(context.Background(), version))
	require.Equal(t, 3, version.VersionNumber)
	require.NotEmpty(t, version.ID)
	require.Equal(t, models.VersionStatusSubmitted, version.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVersionRepositoryAppendConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO document_versions")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	version := &models.DocumentVersion{DocumentID: "doc-1", UploadedBy: "user-1"}
	err := repo.Append(context.Background(), version)
	require.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVersionRepositoryLatestRowsByAgency(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)
	rows := sqlmock.NewRows([]string{"document_id", "document_type", "version_number", "status"}).
		AddRow("doc-1", "TAX_ID", 2, "ACCEPTED").
		AddRow("doc-2", "OPERATING_LICENSE", 1, "SUBMITTED")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT v.document_id, d.document_type, v.version_number, v.status")).
		WithArgs("ag-1").
		WillReturnRows(rows)

	latest, err := repo.LatestRowsByAgency(context.Background(), "ag-1")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, models.VersionStatusAccepted, latest[0].Status)
	require.Equal(t, 2, latest[0].VersionNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVersionRepositoryUpdateStatusMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVersionRepository(db)
	now := time.Now()
	comment := "blurry scan"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE document_versions SET status = $2")).
		WithArgs("ver-1", models.VersionStatusRejected, "admin-1", sqlmock.AnyArg(), comment).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), "ver-1", models.VersionStatusRejected, "admin-1", &comment, now))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE document_versions SET status = $2")).
		WithArgs("ver-missing", models.VersionStatusAccepted, "admin-1", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.Error(t, repo.UpdateStatus(context.Background(), "ver-missing", models.VersionStatusAccepted, "admin-1", nil, now))
	require.NoError(t, mock.ExpectationsWereMet())
}
