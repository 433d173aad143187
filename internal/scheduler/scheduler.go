package scheduler

import (
	"context"
	"errors"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"
	"domstyle-sync-server/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs periodic download-only syncs so connected pages pick up
// rules edited directly in the backends. Runs are skipped quietly when no
// bearer token has been deposited yet.
type Scheduler struct {
	cron        *cron.Cron
	syncService *service.SyncService
	authService *service.AuthService
	backends    []string
}

func New(syncService *service.SyncService, authService *service.AuthService, backends []string) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		syncService: syncService,
		authService: authService,
		backends:    backends,
	}
}

func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return err
	}
	s.cron.Start()
	logger.Log.Info("auto-sync scheduled", zap.String("spec", spec))
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) run() {
	ctx := context.Background()

	if _, err := s.authService.AccessToken(ctx); err != nil {
		logger.Log.Debug("auto-sync skipped, no usable token")
		return
	}

	for _, backend := range s.backends {
		result, err := s.syncService.Sync(ctx, &domain.SyncRequest{
			Direction: domain.DirectionDownload,
			Backend:   backend,
		})
		if err != nil {
			if errors.Is(err, domain.ErrSyncInProgress) {
				logger.Log.Debug("auto-sync skipped, sync already running")
				return
			}
			var cfgErr *domain.ConfigError
			if errors.As(err, &cfgErr) {
				continue
			}
			logger.Log.Warn("auto-sync failed",
				zap.String("backend", backend),
				zap.Error(err))
			continue
		}

		logger.Log.Info("auto-sync completed",
			zap.String("backend", backend),
			zap.Int("written", result.Local.Written),
			zap.Int("updated", result.Local.Updated),
			zap.Int("deleted", result.Local.Deleted))
	}
}
