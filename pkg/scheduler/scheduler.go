// Package scheduler triggers background refreshes on per-dataset cron
// schedules. It calls the same coordinator path as an HTTP caller would, so
// the distributed lock still guarantees one refresh per dataset even when
// several instances run the same schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/refresh"
)

// ErrAlreadyStarted is returned when Start is called twice
var ErrAlreadyStarted = errors.New("scheduler already started")

// Refresher is the engine contract the scheduler calls into
type Refresher interface {
	Refresh(ctx context.Context, datasetID string, force bool) refresh.Result
}

// Service defines the scheduler service
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	log       logrus.FieldLogger
	datasets  *config.Datasets
	refresher Refresher
	cron      *cron.Cron
}

// NewService creates a scheduler over the datasets that declare a schedule
func NewService(log logrus.FieldLogger, datasets *config.Datasets, refresher Refresher) Service {
	return &service{
		log:       log.WithField("service", "scheduler"),
		datasets:  datasets,
		refresher: refresher,
	}
}

// Start registers every scheduled dataset and starts the cron runner
func (s *service) Start(_ context.Context) error {
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	s.cron = cron.New()

	scheduled := 0

	for _, ds := range s.datasets.Enabled() {
		if ds.Schedule == "" {
			continue
		}

		datasetID := ds.ID

		if _, err := s.cron.AddFunc(ds.Schedule, func() {
			s.run(datasetID)
		}); err != nil {
			return fmt.Errorf("invalid schedule for dataset %s: %w", datasetID, err)
		}

		s.log.WithFields(logrus.Fields{
			"dataset":  datasetID,
			"schedule": ds.Schedule,
		}).Info("Registered dataset schedule")

		scheduled++
	}

	s.cron.Start()
	s.log.WithField("datasets", scheduled).Info("Scheduler started")

	return nil
}

// Stop stops the cron runner and waits for in-flight refreshes
func (s *service) Stop() error {
	if s.cron == nil {
		return nil
	}

	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")

	return nil
}

func (s *service) run(datasetID string) {
	result := s.refresher.Refresh(context.Background(), datasetID, false)

	log := s.log.WithFields(logrus.Fields{
		"dataset": datasetID,
		"status":  result.Status,
	})

	switch result.Status {
	case refresh.StatusFailed:
		log.WithField("error", result.Error).Error("Scheduled refresh failed")
	case refresh.StatusLocked, refresh.StatusCached:
		log.Debug("Scheduled refresh skipped")
	case refresh.StatusInitialLoad, refresh.StatusRefreshed:
		log.WithField("rows", result.RowCount).Info("Scheduled refresh completed")
	}
}

var _ Service = (*service)(nil)
