package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rentora-dev/rentora-api/internal/dto"
	"github.com/rentora-dev/rentora-api/internal/models"
	"github.com/rentora-dev/rentora-api/internal/repository"
	appErrors "github.com/rentora-dev/rentora-api/pkg/errors"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type documentRegistry interface {
	GetOrCreate(ctx context.Context, agencyID string, documentType models.DocumentType) (*models.DocumentRecord, error)
	GetByID(ctx context.Context, id string) (*models.DocumentRecord, error)
	ListByAgency(ctx context.Context, agencyID string) ([]models.DocumentRecord, error)
	ListAll(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentAdminRow, error)
}

type versionStore interface {
	Append(ctx context.Context, version *models.DocumentVersion) error
	GetByID(ctx context.Context, id string) (*models.DocumentVersion, error)
	ListByDocument(ctx context.Context, documentID string) ([]models.DocumentVersion, error)
	LatestByDocument(ctx context.Context, documentID string) (*models.DocumentVersion, error)
	LatestByAgency(ctx context.Context, agencyID string) ([]models.DocumentVersion, error)
	HistoryByAgency(ctx context.Context, agencyID string, limit, offset int) ([]models.VersionHistoryRow, error)
}

type documentFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type documentSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

type verificationRefresher interface {
	Recompute(ctx context.Context, agencyID string, actorID *string) (*models.VerificationSnapshot, error)
	Snapshot(ctx context.Context, agencyID string) (*models.VerificationSnapshot, error)
	Invalidate(ctx context.Context, agencyID string)
	RequiredTypes() []models.DocumentType
}

// DocumentUpload carries upload metadata and the file stream.
type DocumentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// DocumentDownload bundles an open file with metadata for streaming.
type DocumentDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// DocumentServiceConfig holds validation parameters for uploads.
type DocumentServiceConfig struct {
	MaxFileSize   int64
	AllowedMIMEs  []string
	APIPrefix     string
	AppendRetries int
}

// DocumentService manages the document registry and its append-only
// version store.
type DocumentService struct {
	registry     documentRegistry
	versions     versionStore
	storage      documentFileStorage
	signer       documentSigner
	verification verificationRefresher
	audit        auditLogger
	logger       *zap.Logger
	cfg          DocumentServiceConfig
	mimeSet      map[string]struct{}
}

// NewDocumentService constructs the service with defaults.
func NewDocumentService(registry documentRegistry, versions versionStore, storage documentFileStorage, signer documentSigner, verification verificationRefresher, audit auditLogger, logger *zap.Logger, cfg DocumentServiceConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"application/pdf", "image/png", "image/jpeg"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if cfg.AppendRetries <= 0 {
		cfg.AppendRetries = 3
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	return &DocumentService{
		registry:     registry,
		versions:     versions,
		storage:      storage,
		signer:       signer,
		verification: verification,
		audit:        audit,
		logger:       logger,
		cfg:          cfg,
		mimeSet:      mimeSet,
	}
}

// Upload validates and stores a new version of the actor's document for
// the given type, creating the registry record on first upload. Bytes hit
// storage before metadata: a crash between the two leaves an orphan blob
// for the sweep, never a version pointing at missing bytes.
func (s *DocumentService) Upload(ctx context.Context, meta dto.UploadDocumentRequest, upload DocumentUpload, actor *models.JWTClaims) (*models.DocumentVersion, error) {
	agencyID, err := s.resolveAgency(actor, strings.TrimSpace(meta.AgencyID))
	if err != nil {
		return nil, err
	}
	documentType, ok := models.ParseDocumentType(meta.DocumentType)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown document type %q", meta.DocumentType))
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	mimeType, err := s.detectMime(upload)
	if err != nil {
		return nil, err
	}
	if _, allowed := s.mimeSet[strings.ToLower(mimeType)]; !allowed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
	}

	data, err := io.ReadAll(upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	if len(data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	digest := sha256.Sum256(data)

	record, err := s.registry.GetOrCreate(ctx, agencyID, documentType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve document record")
	}

	locator := s.buildLocator(agencyID, documentType, upload.Filename, mimeType)
	path, err := s.storage.Save(locator, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist document file")
	}

	version := &models.DocumentVersion{
		DocumentID:       record.ID,
		OriginalFilename: upload.Filename,
		ContentType:      mimeType,
		SizeBytes:        int64(len(data)),
		Digest:           hex.EncodeToString(digest[:]),
		FilePath:         path,
		Status:           models.VersionStatusSubmitted,
		UploadedBy:       actor.UserID,
		Note:             normalizeNote(meta.Note),
	}

	for attempt := 1; ; attempt++ {
		err = s.versions.Append(ctx, version)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrVersionConflict) && attempt < s.cfg.AppendRetries {
			s.logger.Debug("version number conflict, retrying append",
				zap.String("document_id", record.ID),
				zap.Int("attempt", attempt))
			continue
		}
		_ = s.storage.Delete(path)
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "concurrent uploads for this document, retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record document version")
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionDocumentUpload,
		Resource:   "document_version",
		ResourceID: &version.ID,
		NewValues:  []byte(fmt.Sprintf(`{"document_type":"%s","version":%d}`, documentType, version.VersionNumber)),
	})

	// A new SUBMITTED latest version can strip verified status, so the
	// snapshot is refreshed immediately.
	s.verification.Invalidate(ctx, agencyID)
	if _, err := s.verification.Recompute(ctx, agencyID, &actor.UserID); err != nil {
		s.logger.Warn("failed to recompute verification after upload",
			zap.String("agency_id", agencyID), zap.Error(err))
	}

	return version, nil
}

// ListMyDocuments returns one item per document type for the actor's
// agency, pairing registry records with their latest versions and the
// derived verification snapshot.
func (s *DocumentService) ListMyDocuments(ctx context.Context, actor *models.JWTClaims) (*dto.MyDocumentsResponse, error) {
	agencyID, err := s.resolveAgency(actor, "")
	if err != nil {
		return nil, err
	}
	return s.listDocuments(ctx, agencyID)
}

// ListAgencyDocuments is the admin view of one agency's documents.
func (s *DocumentService) ListAgencyDocuments(ctx context.Context, agencyID string, actor *models.JWTClaims) (*dto.MyDocumentsResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	return s.listDocuments(ctx, agencyID)
}

func (s *DocumentService) listDocuments(ctx context.Context, agencyID string) (*dto.MyDocumentsResponse, error) {
	records, err := s.registry.ListByAgency(ctx, agencyID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	latest, err := s.versions.LatestByAgency(ctx, agencyID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest versions")
	}
	latestByDocument := make(map[string]models.DocumentVersion, len(latest))
	for _, version := range latest {
		latestByDocument[version.DocumentID] = version
	}
	recordByType := make(map[models.DocumentType]models.DocumentRecord, len(records))
	for _, record := range records {
		recordByType[record.DocumentType] = record
	}
	required := make(map[models.DocumentType]struct{}, len(s.verification.RequiredTypes()))
	for _, dt := range s.verification.RequiredTypes() {
		required[dt] = struct{}{}
	}

	items := make([]dto.DocumentStatusItem, 0, len(models.AllDocumentTypes))
	for _, dt := range models.AllDocumentTypes {
		item := dto.DocumentStatusItem{DocumentType: dt}
		if _, ok := required[dt]; ok {
			item.Required = true
		}
		if record, ok := recordByType[dt]; ok {
			recordCopy := record
			item.Record = &recordCopy
			if version, ok := latestByDocument[record.ID]; ok {
				versionCopy := version
				item.Latest = &versionCopy
			}
		}
		items = append(items, item)
	}

	snapshot, err := s.verification.Snapshot(ctx, agencyID)
	if err != nil {
		return nil, err
	}
	return &dto.MyDocumentsResponse{Documents: items, Verification: *snapshot}, nil
}

// ListVersions returns the full version history of one document record.
func (s *DocumentService) ListVersions(ctx context.Context, documentID string, actor *models.JWTClaims) ([]models.DocumentVersion, error) {
	record, err := s.loadRecord(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureAccess(record, actor); err != nil {
		return nil, err
	}
	versions, err := s.versions.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list versions")
	}
	return versions, nil
}

// History returns the actor's uploads across all documents, newest first.
func (s *DocumentService) History(ctx context.Context, actor *models.JWTClaims, limit, offset int) ([]models.VersionHistoryRow, error) {
	agencyID, err := s.resolveAgency(actor, "")
	if err != nil {
		return nil, err
	}
	rows, err := s.versions.HistoryByAgency(ctx, agencyID, limit, offset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load upload history")
	}
	return rows, nil
}

// GetDownloadURL issues a signed, short-lived link for a version's file.
func (s *DocumentService) GetDownloadURL(ctx context.Context, versionID string, actor *models.JWTClaims) (*dto.VersionDownloadResponse, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	version, record, err := s.loadVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureAccess(record, actor); err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(version.ID, version.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionDocumentDownload,
		Resource:   "document_version",
		ResourceID: &version.ID,
	})
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	url := fmt.Sprintf("%s/documents/versions/%s/download?token=%s", base, version.ID, token)
	return &dto.VersionDownloadResponse{
		Version:     *version,
		DownloadURL: url,
		ExpiresAt:   expiresAt,
	}, nil
}

// Download validates the signed token and opens the stored file.
func (s *DocumentService) Download(ctx context.Context, versionID, token string, actor *models.JWTClaims) (*DocumentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	version, record, err := s.loadVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureAccess(record, actor); err != nil {
		return nil, err
	}
	tokenVersionID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if tokenVersionID != version.ID || relPath != version.FilePath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open document file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file metadata")
	}
	return &DocumentDownload{
		File:      file,
		Filename:  version.OriginalFilename,
		MimeType:  version.ContentType,
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

// AdminList returns registry records across agencies with their latest
// versions for the review queue.
func (s *DocumentService) AdminList(ctx context.Context, query dto.AdminDocumentQuery, actor *models.JWTClaims) ([]dto.AdminDocumentItem, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	filter := models.DocumentFilter{AgencyID: query.AgencyID}
	if query.DocumentType != "" {
		documentType, ok := models.ParseDocumentType(query.DocumentType)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown document type %q", query.DocumentType))
		}
		filter.DocumentType = documentType
	}
	pageSize := query.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	rows, err := s.registry.ListAll(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	items := make([]dto.AdminDocumentItem, 0, len(rows))
	for _, row := range rows {
		item := dto.AdminDocumentItem{Record: row.DocumentRecord, LegalName: row.LegalName}
		latest, err := s.versions.LatestByDocument(ctx, row.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest version")
		}
		if latest != nil {
			item.Latest = latest
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *DocumentService) loadRecord(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	record, err := s.registry.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return record, nil
}

func (s *DocumentService) loadVersion(ctx context.Context, versionID string) (*models.DocumentVersion, *models.DocumentRecord, error) {
	version, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "version not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load version")
	}
	record, err := s.loadRecord(ctx, version.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	return version, record, nil
}

func (s *DocumentService) ensureAccess(record *models.DocumentRecord, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleAgency:
		if actor.AgencyID != nil && *actor.AgencyID == record.AgencyID {
			return nil
		}
		return appErrors.ErrForbidden
	default:
		return appErrors.ErrForbidden
	}
}

func (s *DocumentService) resolveAgency(actor *models.JWTClaims, override string) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleAgency:
		if actor.AgencyID == nil || *actor.AgencyID == "" {
			return "", appErrors.Clone(appErrors.ErrForbidden, "account is not linked to an agency")
		}
		return *actor.AgencyID, nil
	case models.RoleAdmin:
		if override != "" {
			return override, nil
		}
		return "", appErrors.Clone(appErrors.ErrValidation, "agency id is required")
	default:
		return "", appErrors.ErrForbidden
	}
}

func (s *DocumentService) detectMime(upload DocumentUpload) (string, error) {
	if upload.Content == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "file reader missing")
	}
	if upload.MimeType != "" {
		return upload.MimeType, nil
	}
	header := make([]byte, 512)
	n, err := upload.Content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	return http.DetectContentType(header[:n]), nil
}

func (s *DocumentService) buildLocator(agencyID string, documentType models.DocumentType, original, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = mimeExtension(mimeType)
	}
	if ext == "" {
		ext = ".bin"
	}
	return filepath.Join("documents", agencyID, string(documentType),
		fmt.Sprintf("%d_%s%s", time.Now().Unix(), randomSuffix(), ext))
}

func mimeExtension(mime string) string {
	switch strings.ToLower(mime) {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ""
	}
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func normalizeNote(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *DocumentService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "document-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create document audit", zap.Error(err))
	}
}
