package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Aidin1998/crossvenue/internal/execution"
)

// PolicyLoader reads an ExecutionPolicy from a YAML file with defaults.
// The loaded policy is handed to the engine as an explicit value; nothing
// in the core reads configuration ambiently.
type PolicyLoader struct {
	configPath string
	logger     *zap.Logger
	viper      *viper.Viper
}

// NewPolicyLoader creates a loader for the given path. An empty path
// searches the default locations.
func NewPolicyLoader(configPath string, logger *zap.Logger) *PolicyLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyLoader{
		configPath: configPath,
		logger:     logger.Named("policy-config"),
		viper:      viper.New(),
	}
}

// Load reads, defaults, and validates the execution policy.
func (l *PolicyLoader) Load() (execution.ExecutionPolicy, error) {
	defaults := execution.DefaultPolicy()
	l.setDefaults(defaults)

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); os.IsNotExist(err) {
			l.logger.Warn("policy file not found, using defaults",
				zap.String("path", l.configPath))
			return defaults, nil
		}
		l.viper.SetConfigFile(l.configPath)
	} else {
		l.viper.SetConfigName("crossvenue")
		l.viper.SetConfigType("yaml")
		l.viper.AddConfigPath(".")
		l.viper.AddConfigPath("./configs")
		l.viper.AddConfigPath("/etc/crossvenue")
	}

	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			l.logger.Warn("policy file not found, using defaults")
			return defaults, nil
		}
		return execution.ExecutionPolicy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	policy := l.build()
	if err := policy.Validate(); err != nil {
		return execution.ExecutionPolicy{}, err
	}

	l.logger.Info("execution policy loaded",
		zap.String("path", l.viper.ConfigFileUsed()),
		zap.String("hedge_strategy", policy.Hedge.Strategy),
		zap.Bool("rollback_on_failure", policy.RollbackOnFailure))
	return policy, nil
}

func (l *PolicyLoader) setDefaults(d execution.ExecutionPolicy) {
	l.viper.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	l.viper.SetDefault("retry.attempt_timeout", d.Retry.AttemptTimeout)
	l.viper.SetDefault("retry.inter_attempt_delay", d.Retry.InterAttemptDelay)
	l.viper.SetDefault("retry.max_duration", d.Retry.MaxDuration)
	l.viper.SetDefault("retry.min_quantity", d.Retry.MinQuantity.InexactFloat64())
	l.viper.SetDefault("retry.price_offset_ticks", d.Retry.PriceOffsetTicks)

	l.viper.SetDefault("hedge.strategy", d.Hedge.Strategy)
	l.viper.SetDefault("hedge.fill_threshold", d.Hedge.FillThreshold.InexactFloat64())
	l.viper.SetDefault("hedge.max_duration", d.Hedge.MaxDuration)
	l.viper.SetDefault("hedge.max_attempts", d.Hedge.MaxAttempts)
	l.viper.SetDefault("hedge.attempt_timeout", d.Hedge.AttemptTimeout)
	l.viper.SetDefault("hedge.backoff", d.Hedge.Backoff)
	l.viper.SetDefault("hedge.inside_spread_attempts", d.Hedge.InsideSpreadAttempts)

	l.viper.SetDefault("rollback_on_failure", d.RollbackOnFailure)
	l.viper.SetDefault("dust_threshold", d.DustThreshold.InexactFloat64())
	l.viper.SetDefault("poll_interval", d.PollInterval)
}

func (l *PolicyLoader) build() execution.ExecutionPolicy {
	return execution.ExecutionPolicy{
		Retry: execution.RetryPolicy{
			MaxAttempts:       l.viper.GetInt("retry.max_attempts"),
			AttemptTimeout:    l.viper.GetDuration("retry.attempt_timeout"),
			InterAttemptDelay: l.viper.GetDuration("retry.inter_attempt_delay"),
			MaxDuration:       l.viper.GetDuration("retry.max_duration"),
			MinQuantity:       decimal.NewFromFloat(l.viper.GetFloat64("retry.min_quantity")),
			PriceOffsetTicks:  l.viper.GetInt("retry.price_offset_ticks"),
		},
		Hedge: execution.HedgePolicy{
			Strategy:             l.viper.GetString("hedge.strategy"),
			FillThreshold:        decimal.NewFromFloat(l.viper.GetFloat64("hedge.fill_threshold")),
			MaxDuration:          l.viper.GetDuration("hedge.max_duration"),
			MaxAttempts:          l.viper.GetInt("hedge.max_attempts"),
			AttemptTimeout:       l.viper.GetDuration("hedge.attempt_timeout"),
			Backoff:              l.viper.GetDuration("hedge.backoff"),
			InsideSpreadAttempts: l.viper.GetInt("hedge.inside_spread_attempts"),
		},
		RollbackOnFailure: l.viper.GetBool("rollback_on_failure"),
		DustThreshold:     decimal.NewFromFloat(l.viper.GetFloat64("dust_threshold")),
		PollInterval:      l.viper.GetDuration("poll_interval"),
	}
}
