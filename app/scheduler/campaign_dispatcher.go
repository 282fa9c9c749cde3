// Package scheduler runs the background dispatch loop for running campaigns
package scheduler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/config"
	"github.com/wablast/blast-core/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	dispatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wablast_dispatch_runs_total",
			Help: "Campaign dispatch runs partitioned by outcome",
		},
		[]string{"outcome"},
	)

	dispatchMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wablast_dispatch_messages_total",
			Help: "Messages handed to the provider partitioned by result",
		},
		[]string{"result"},
	)

	dispatchTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wablast_dispatch_tick_duration_seconds",
			Help:    "Duration of one dispatcher tick over all running campaigns",
			Buckets: prometheus.DefBuckets,
		},
	)

	staleCampaigns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wablast_stale_running_campaigns",
			Help: "Running campaigns without recent dispatch activity",
		},
	)
)

// CampaignDispatcher periodically drives every running campaign through the dispatch flow
type CampaignDispatcher struct {
	running   repository.AdminCampaignRepository
	dispatch  businessflow.DispatchFlow
	campaigns businessflow.CampaignFlow
	cfg       config.DispatcherConfig
	logger    *zap.Logger
}

// NewCampaignDispatcher builds a dispatcher; zero config values fall back to defaults and a nil
// logger is replaced by a no-op one.
func NewCampaignDispatcher(
	running repository.AdminCampaignRepository,
	dispatch businessflow.DispatchFlow,
	campaigns businessflow.CampaignFlow,
	cfg config.DispatcherConfig,
	logger *zap.Logger,
) *CampaignDispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxBatchesPerRun <= 0 {
		cfg.MaxBatchesPerRun = 10
	}
	if cfg.RunningLimit <= 0 {
		cfg.RunningLimit = 100
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.StaleInterval <= 0 {
		cfg.StaleInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignDispatcher{
		running:   running,
		dispatch:  dispatch,
		campaigns: campaigns,
		cfg:       cfg,
		logger:    logger.Named("dispatcher"),
	}
}

// Start launches the dispatch loop and the stale monitor and returns a stop function.
// The stop function waits for in-flight runs to return.
func (s *CampaignDispatcher) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.RunOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		ticker := time.NewTicker(s.cfg.StaleInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CheckStale(ctx)
			}
		}
	}()

	s.logger.Info("Campaign dispatcher started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("batch_size", s.cfg.BatchSize))

	return func() {
		cancel()
		<-done
		<-done
		s.logger.Info("Campaign dispatcher stopped")
	}
}

// RunOnce runs every currently running campaign for at most MaxBatchesPerRun batches,
// with at most Workers campaigns in flight.
func (s *CampaignDispatcher) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() { dispatchTickDuration.Observe(time.Since(start).Seconds()) }()

	running, err := s.running.ListRunning(ctx, s.cfg.RunningLimit)
	if err != nil {
		s.logger.Error("List running campaigns failed", zap.Error(err))
		return
	}
	if len(running) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, c := range running {
		klienID, campaignID := c.KlienID, c.ID
		g.Go(func() error {
			s.runCampaign(gctx, klienID, campaignID)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *CampaignDispatcher) runCampaign(ctx context.Context, klienID, campaignID uint) {
	logger := s.logger.With(zap.Uint("klien_id", klienID), zap.Uint("campaign_id", campaignID))

	summary, err := s.dispatch.RunCampaign(ctx, klienID, campaignID, s.cfg.BatchSize, s.cfg.MaxBatchesPerRun)
	switch {
	case err == nil:
	case businessflow.IsCampaignNotRunning(err):
		// paused or cancelled between listing and running
		dispatchRunsTotal.WithLabelValues("skipped").Inc()
		return
	case ctx.Err() != nil:
		dispatchRunsTotal.WithLabelValues("interrupted").Inc()
		return
	default:
		dispatchRunsTotal.WithLabelValues("error").Inc()
		logger.Error("Campaign run failed", zap.Error(err))
		return
	}

	dispatchMessagesTotal.WithLabelValues("sent").Add(float64(summary.Sent))
	dispatchMessagesTotal.WithLabelValues("failed").Add(float64(summary.Failed))

	outcome := "continued"
	switch summary.Stopped {
	case businessflow.MustStopComplete:
		outcome = "completed"
	case businessflow.MustStopPause:
		outcome = "paused"
	}
	dispatchRunsTotal.WithLabelValues(outcome).Inc()

	if summary.Sent > 0 || summary.Failed > 0 || summary.Stopped != businessflow.MustStopNone {
		logger.Info("Campaign run finished",
			zap.Int("batches", summary.Batches),
			zap.Int("sent", summary.Sent),
			zap.Int("failed", summary.Failed),
			zap.String("stopped", string(summary.Stopped)))
	}
}

// CheckStale logs running campaigns that have made no progress for StaleAfter and
// returns how many were found.
func (s *CampaignDispatcher) CheckStale(ctx context.Context) int {
	stale, err := s.campaigns.StaleRunning(ctx, s.cfg.StaleAfter)
	if err != nil {
		s.logger.Error("Stale campaign check failed", zap.Error(err))
		return 0
	}
	staleCampaigns.Set(float64(len(stale)))
	for _, c := range stale {
		s.logger.Warn("Running campaign has no recent dispatch activity",
			zap.Uint("klien_id", c.KlienID),
			zap.Uint("campaign_id", c.ID),
			zap.Timep("last_dispatch_at", c.LastDispatchAt),
			zap.Duration("stale_after", s.cfg.StaleAfter))
	}
	return len(stale)
}
