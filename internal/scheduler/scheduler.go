package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/clock"
	"github.com/smallbiznis/entitlementd/internal/config"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	obscontext "github.com/smallbiznis/entitlementd/internal/observability/context"
	obslogger "github.com/smallbiznis/entitlementd/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/entitlementd/internal/observability/metrics"
	"github.com/smallbiznis/entitlementd/pkg/telemetry/correlation"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log          *zap.Logger
	Entitlements entdomain.Service
	GenID        *snowflake.Node
	Clock        clock.Clock
	Policy       *config.PolicyHolder         `optional:"true"`
	Config       Config                       `optional:"true"`
	Metrics      *obsmetrics.SchedulerMetrics `optional:"true"`
}

// Scheduler runs the server-side sweeps: local expiry enforcement and
// polling of records no webhook has refreshed recently.
type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	policy       *config.PolicyHolder
	entitlements entdomain.Service
	metrics      *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Entitlements == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		policy:       p.Policy,
		entitlements: p.Entitlements,
		metrics:      p.Metrics,
	}, nil
}

// runJob runs one sweep under its own deadline. Each run gets a snowflake
// run id used as the correlation id, so change events published by the sweep
// can be traced back to it.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context, limit int) (int, error),
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	runID := s.genID.Generate().String()
	ctx = correlation.WithID(obscontext.WithRequestID(ctx, runID), runID)
	log := obslogger.WithContext(ctx, s.log).With(zap.String("job", name))
	log.Debug("scheduler.job.start", zap.Int("batch_size", batchSize))
	s.metrics.IncJobRun(name)

	processed, err := fn(ctx, batchSize)
	elapsed := time.Since(start)
	s.metrics.AddBatchProcessed(name, obsmetrics.ResourceEntitlements, processed)
	s.metrics.ObserveJobDuration(name, elapsed)

	finish := []zap.Field{
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.Int("processed_count", max(processed, 0)),
	}
	switch {
	case err == nil && processed > 0:
		log.Info("scheduler.job.finish", finish...)
		return nil
	case err == nil:
		log.Debug("scheduler.job.finish", finish...)
		return nil
	}
	log.Warn("scheduler.job.finish", append(finish, zap.Error(err))...)

	// Deadline is a soft timeout: the next tick resumes where this one stopped.
	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		log.Warn("job timed out", zap.Duration("timeout", timeout))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once and joins their errors.
func (s *Scheduler) RunOnce(parent context.Context) error {
	settings := s.settings()

	jobs := []struct {
		Name string
		Run  func(ctx context.Context, limit int) (int, error)
	}{
		{JobExpireEntitlements, s.entitlements.SweepExpired},
		{JobReconcileStale, s.entitlements.SweepStale},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		if parent.Err() != nil {
			return errors.Join(err, parent.Err())
		}
		err = errors.Join(err, s.runJob(parent, job.Name, settings.BatchSize, settings.JobTimeout, job.Run))
	}
	return err
}

// RunForever runs RunOnce every sweep interval until ctx is done. The
// interval is re-read from the policy after every run.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.settings().RunInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	nextRun := s.clock.Now().Add(interval)

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		interval = s.settings().RunInterval
		timer.Reset(interval)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		nextRun = s.clock.Now().Add(interval)
	}
}

func (s *Scheduler) settings() Config {
	cfg := s.cfg
	if s.policy == nil {
		return cfg
	}
	p := s.policy.Get()
	if p.SweepInterval > 0 {
		cfg.RunInterval = p.SweepInterval
	}
	if p.SweepBatchSize > 0 {
		cfg.BatchSize = p.SweepBatchSize
	}
	if p.JobTimeout > 0 {
		cfg.JobTimeout = p.JobTimeout
	}
	return cfg
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty runs every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
