package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fluxd/internal/config"
	"github.com/dokzlo13/fluxd/internal/db"
	"github.com/dokzlo13/fluxd/internal/eventbus"
	"github.com/dokzlo13/fluxd/internal/ledger"
)

// LedgerService keeps the optional SQLite audit trail of controller events.
type LedgerService struct {
	cfg    *config.Config
	DB     *db.DB
	Ledger *ledger.Ledger
}

// NewLedgerService opens the database and subscribes the recorder to bus.
func NewLedgerService(cfg *config.Config, bus *eventbus.Bus) (*LedgerService, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	l := ledger.New(database.DB)
	ledger.NewRecorder(l).Attach(bus)

	log.Info().Str("path", cfg.Database.Path).Int("retention_days", cfg.Ledger.RetentionDays).Msg("Event ledger enabled")

	return &LedgerService{cfg: cfg, DB: database, Ledger: l}, nil
}

// Start begins periodic retention cleanup.
func (s *LedgerService) Start(ctx context.Context) {
	go s.runCleanup(ctx)
}

// runCleanup periodically cleans up old ledger entries.
func (s *LedgerService) runCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	s.cleanup(retention)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(retention)
		}
	}
}

func (s *LedgerService) cleanup(retention time.Duration) {
	deleted, err := s.Ledger.DeleteOlderThan(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
	}
}

// Close closes the database.
func (s *LedgerService) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}
