package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type sweepStorage interface {
	ListOlderThan(age time.Duration) ([]string, error)
	Delete(filename string) error
}

type sweepVersionReader interface {
	ExistsByFilePath(ctx context.Context, filePath string) (bool, error)
}

// SweepConfig tunes the orphan blob sweep.
type SweepConfig struct {
	MinAge time.Duration
}

// SweepService removes stored blobs that no version row references. Such
// orphans appear when a crash hits between the file write and the
// metadata insert; the minimum age keeps the sweep from racing an upload
// that is still between those two steps.
type SweepService struct {
	storage  sweepStorage
	versions sweepVersionReader
	logger   *zap.Logger
	cfg      SweepConfig
}

// NewSweepService constructs the service.
func NewSweepService(storage sweepStorage, versions sweepVersionReader, logger *zap.Logger, cfg SweepConfig) *SweepService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 24 * time.Hour
	}
	return &SweepService{storage: storage, versions: versions, logger: logger, cfg: cfg}
}

// Run scans stale files and deletes the ones without metadata. It returns
// the number of removed blobs.
func (s *SweepService) Run(ctx context.Context) (int, error) {
	stale, err := s.storage.ListOlderThan(s.cfg.MinAge)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, relPath := range stale {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}
		referenced, err := s.versions.ExistsByFilePath(ctx, relPath)
		if err != nil {
			s.logger.Warn("orphan sweep lookup failed", zap.String("path", relPath), zap.Error(err))
			continue
		}
		if referenced {
			continue
		}
		if err := s.storage.Delete(relPath); err != nil {
			s.logger.Warn("orphan sweep delete failed", zap.String("path", relPath), zap.Error(err))
			continue
		}
		removed++
		s.logger.Info("removed orphan blob", zap.String("path", relPath))
	}
	return removed, nil
}
