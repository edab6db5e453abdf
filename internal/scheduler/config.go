package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/entitlementd/internal/config"
)

const (
	JobExpireEntitlements = "expire_entitlements"
	JobReconcileStale     = "reconcile_stale"
)

// Config controls which sweeps run and their fallbacks when no policy is
// loaded. Interval, batch size and job timeout follow the live policy.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   100,
		JobTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	var jobs []string
	for _, job := range strings.Split(cfg.SchedulerJobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			jobs = append(jobs, job)
		}
	}
	return Config{EnabledJobs: jobs}.withDefaults()
}
