package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/bissquit/incident-escalator/internal/pkg/ctxlog"
	"github.com/bissquit/incident-escalator/internal/store"
	"github.com/google/uuid"
)

// SummaryFetcher returns the raw status summary document.
type SummaryFetcher interface {
	Summary(ctx context.Context) (json.RawMessage, error)
}

// Config contains ingestion configuration.
type Config struct {
	// MaxRetries is the number of consecutive feed failures that raise
	// a monitoring failure incident.
	MaxRetries int
	// FeedName is used in the monitoring failure incident name.
	FeedName string
}

// DefaultConfig returns default ingestion configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		FeedName:   "status page",
	}
}

// Service polls the status feed and creates missing incident records.
// RunCycle must not be called concurrently; the scheduler guarantees this.
type Service struct {
	config Config
	repo   store.Repository
	feed   SummaryFetcher
	now    func() time.Time

	consecutiveFailures int
	lastSuccess         atomic.Int64
}

// NewService creates a new ingestion service.
func NewService(config Config, repo store.Repository, feed SummaryFetcher) *Service {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.FeedName == "" {
		config.FeedName = DefaultConfig().FeedName
	}
	return &Service{
		config: config,
		repo:   repo,
		feed:   feed,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LastSuccess returns the time of the last successful feed fetch.
func (s *Service) LastSuccess() time.Time {
	ns := s.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// RunCycle fetches the feed once and records new incidents. It never returns
// an error: failures are logged and reflected in metrics.
func (s *Service) RunCycle(ctx context.Context) {
	ctx, logger := ctxlog.With(ctx, "component", "ingest")
	start := time.Now()
	defer func() { recordCycleDuration(time.Since(start)) }()

	summary, err := s.feed.Summary(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.handleFetchFailure(ctx, logger, err)
		return
	}

	s.consecutiveFailures = 0
	s.lastSuccess.Store(s.now().UnixNano())

	records, err := Normalize(summary, s.now())
	if err != nil {
		logger.Error("failed to normalize status summary", "error", err)
		recordCycle("normalization_error")
		return
	}

	if len(records) == 0 {
		logger.Info("no issues detected, all systems operational")
		recordCycle("ok")
		return
	}

	created := 0
	for i := range records {
		if ctx.Err() != nil {
			logger.Info("ingest cycle interrupted by shutdown", "processed", i)
			return
		}
		if s.ingest(context.WithoutCancel(ctx), logger, &records[i]) {
			created++
		}
	}

	logger.Info("ingest cycle finished", "incidents", len(records), "created", created)
	recordCycle("ok")
}

// ingest creates the record pair if the incident is unknown. Returns true if created.
func (s *Service) ingest(ctx context.Context, logger *slog.Logger, record *domain.IncidentRecord) bool {
	_, err := s.repo.GetIncident(ctx, record.ID)
	switch {
	case err == nil:
		return false
	case !errors.Is(err, store.ErrNotFound):
		logger.Error("failed to look up incident", "incident_id", record.ID, "error", err)
		recordStoreError()
		return false
	}

	created, err := s.repo.CreateIncident(ctx, record, domain.NewEscalationRecord(record.ID, s.now()))
	if err != nil {
		logger.Error("failed to create incident", "incident_id", record.ID, "error", err)
		recordStoreError()
		return false
	}
	if !created {
		logger.Debug("incident created concurrently", "incident_id", record.ID)
		return false
	}

	logger.Info("incident recorded",
		"incident_id", record.ID,
		"name", record.Name,
		"impact", record.Impact,
		"status", record.Status,
	)
	recordIncidentCreated(record.Impact)
	return true
}

func (s *Service) handleFetchFailure(ctx context.Context, logger *slog.Logger, err error) {
	s.consecutiveFailures++
	recordCycle("fetch_error")
	logger.Warn("status feed fetch failed",
		"attempt", s.consecutiveFailures,
		"max_retries", s.config.MaxRetries,
		"error", err,
	)

	if s.consecutiveFailures < s.config.MaxRetries {
		return
	}

	record := s.monitoringFailure()
	if s.ingest(ctx, logger, &record) {
		logger.Error("monitoring failure recorded", "incident_id", record.ID)
		recordMonitoringFailure()
	}
	s.consecutiveFailures = 0
}

func (s *Service) monitoringFailure() domain.IncidentRecord {
	now := s.now()
	return domain.IncidentRecord{
		ID:                 domain.MonitoringFailureIDPrefix + uuid.NewString(),
		Name:               "Monitoring system unable to fetch " + s.config.FeedName + " status",
		Impact:             domain.ImpactMonitoringFailure,
		Status:             domain.MonitoringFailureStatus,
		CreatedAt:          now,
		UpdatedAt:          now,
		AffectedComponents: []string{},
	}
}
