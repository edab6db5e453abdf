package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PolicyConfig is the hot-reloadable reconciliation policy read from
// entitlement.yml.
type PolicyConfig struct {
	FallbackDuration        time.Duration `mapstructure:"fallbackDuration"`
	PollCooldown            time.Duration `mapstructure:"pollCooldown"`
	SweepInterval           time.Duration `mapstructure:"sweepInterval"`
	SweepBatchSize          int           `mapstructure:"sweepBatchSize"`
	JobTimeout              time.Duration `mapstructure:"jobTimeout"`
	BreakerFailureThreshold uint32        `mapstructure:"breakerFailureThreshold"`
	BreakerOpenTimeout      time.Duration `mapstructure:"breakerOpenTimeout"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		FallbackDuration:        30 * 24 * time.Hour,
		PollCooldown:            6 * time.Hour,
		SweepInterval:           time.Minute,
		SweepBatchSize:          100,
		JobTimeout:              30 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(cfg PolicyConfig) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	v.SetConfigName("entitlement")
	v.SetConfigType("yml")
	if cfg.PolicyConfigDir != "" {
		v.AddConfigPath(cfg.PolicyConfigDir)
	}
	v.AddConfigPath("/etc/entitlementd")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENTITLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyConfig()
	v.SetDefault("entitlement.fallbackDuration", defaults.FallbackDuration)
	v.SetDefault("entitlement.pollCooldown", defaults.PollCooldown)
	v.SetDefault("entitlement.sweepInterval", defaults.SweepInterval)
	v.SetDefault("entitlement.sweepBatchSize", defaults.SweepBatchSize)
	v.SetDefault("entitlement.jobTimeout", defaults.JobTimeout)
	v.SetDefault("entitlement.breakerFailureThreshold", defaults.BreakerFailureThreshold)
	v.SetDefault("entitlement.breakerOpenTimeout", defaults.BreakerOpenTimeout)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	current, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(current)
	if !fileFound {
		log.Info("policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("invalid policy ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded",
			zap.String("file", e.Name),
			zap.Duration("fallback_duration", updated.FallbackDuration),
			zap.Duration("poll_cooldown", updated.PollCooldown),
		)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}

func decodePolicy(v *viper.Viper) (PolicyConfig, error) {
	// Unmarshal over all settings so defaults fill keys the file omits.
	var file struct {
		Entitlement PolicyConfig `mapstructure:"entitlement"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return PolicyConfig{}, err
	}
	if err := ValidatePolicy(file.Entitlement); err != nil {
		return PolicyConfig{}, err
	}
	return file.Entitlement, nil
}

func ValidatePolicy(cfg PolicyConfig) error {
	if cfg.FallbackDuration <= 0 {
		return errors.New("entitlement.fallbackDuration must be positive")
	}
	if cfg.PollCooldown < 0 {
		return errors.New("entitlement.pollCooldown cannot be negative")
	}
	if cfg.SweepInterval <= 0 {
		return errors.New("entitlement.sweepInterval must be positive")
	}
	if cfg.SweepBatchSize <= 0 {
		return errors.New("entitlement.sweepBatchSize must be positive")
	}
	if cfg.BreakerFailureThreshold == 0 {
		return errors.New("entitlement.breakerFailureThreshold must be positive")
	}
	return nil
}
