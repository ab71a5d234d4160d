package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/journal"
	"github.com/alanyoungcy/flowbot/internal/learner"
	"github.com/alanyoungcy/flowbot/internal/metrics"
	"github.com/alanyoungcy/flowbot/internal/notify"
	"github.com/alanyoungcy/flowbot/internal/weights"
)

// LearnerService orchestrates an UpdateWeights pass: run the learner, journal
// the adjustments, persist the table, and notify. Both the scheduled pass and
// the manual ops trigger go through here so every adjustment leaves the same
// trail.
type LearnerService struct {
	learner  *learner.Learner
	table    *weights.Table
	store    domain.WeightStore
	jrnl     domain.Journal
	notifier *notify.Notifier
	met      *metrics.Metrics
	logger   *slog.Logger
}

// NewLearnerService creates a LearnerService. jrnl, notifier, and met may be
// nil.
func NewLearnerService(
	l *learner.Learner,
	table *weights.Table,
	store domain.WeightStore,
	jrnl domain.Journal,
	notifier *notify.Notifier,
	met *metrics.Metrics,
	logger *slog.Logger,
) *LearnerService {
	return &LearnerService{
		learner:  l,
		table:    table,
		store:    store,
		jrnl:     jrnl,
		notifier: notifier,
		met:      met,
		logger:   logger.With(slog.String("component", "learner_service")),
	}
}

// RecordOutcome feeds one realized outcome into the learner statistics.
func (s *LearnerService) RecordOutcome(outcome domain.TradeOutcome) {
	s.learner.RecordOutcome(outcome)
}

// OutcomeCount returns how many outcomes the learner has absorbed.
func (s *LearnerService) OutcomeCount() int {
	return s.learner.OutcomeCount()
}

// RunUpdate executes one weight-update pass. The pass itself never fails; a
// persistence error is returned after the adjustments are journaled so the
// trail survives even when the save does not.
func (s *LearnerService) RunUpdate(ctx context.Context) (learner.UpdateResult, error) {
	res := s.learner.UpdateWeights()

	if s.met != nil {
		for _, adj := range res.Adjustments {
			s.met.LearnerAdjustments.WithLabelValues(adj.Action).Inc()
		}
	}

	now := time.Now().UTC()
	if s.jrnl != nil && res.AdjustedCount > 0 {
		if err := s.jrnl.Record(ctx, journal.WeightUpdateRecord(res, now)); err != nil {
			s.logger.WarnContext(ctx, "journal weight update failed",
				slog.String("error", err.Error()))
		}
	}

	if err := s.store.Save(ctx, s.table.All()); err != nil {
		return res, fmt.Errorf("learner_service: persist weights: %w", err)
	}

	if s.notifier != nil && res.AdjustedCount > 0 {
		msg := fmt.Sprintf("%d band(s) adjusted, %d pair(s) below sample floor",
			res.AdjustedCount, res.SkippedInsufficient)
		if err := s.notifier.Notify(ctx, "weight_update", "Weight update", msg); err != nil {
			s.logger.WarnContext(ctx, "weight update notification failed",
				slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "weight update pass persisted",
		slog.Int("adjusted", res.AdjustedCount))
	return res, nil
}
