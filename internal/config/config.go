package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Download DownloadConfig `yaml:"download" mapstructure:"download"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Match    MatchConfig    `yaml:"match" mapstructure:"match"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the result store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DownloadConfig configures document download behavior.
type DownloadConfig struct {
	Dir              string  `yaml:"dir" mapstructure:"dir"`
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Retries          int     `yaml:"retries" mapstructure:"retries"`
	FTPUser          string  `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword      string  `yaml:"ftp_password" mapstructure:"ftp_password"`
	FTPTimeoutSecs   int     `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
	MaxRedownloads   int     `yaml:"max_redownloads" mapstructure:"max_redownloads"`
	KeepFilesOnFail  bool    `yaml:"keep_files_on_fail" mapstructure:"keep_files_on_fail"`
	BreakerFailures  int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// BatchConfig configures batch orchestration.
type BatchConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	TenderBatchSize  int `yaml:"tender_batch_size" mapstructure:"tender_batch_size"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	FileCooldownSecs int `yaml:"file_cooldown_secs" mapstructure:"file_cooldown_secs"`
	FileTimeoutSecs  int `yaml:"file_timeout_secs" mapstructure:"file_timeout_secs"`
	ReconnectSecs    int `yaml:"reconnect_secs" mapstructure:"reconnect_secs"`
}

// MatchConfig configures match scoring.
type MatchConfig struct {
	FullMatchScore    float64  `yaml:"full_match_score" mapstructure:"full_match_score"`
	GoodMatchFloor    float64  `yaml:"good_match_floor" mapstructure:"good_match_floor"`
	PartialMatchFloor float64  `yaml:"partial_match_floor" mapstructure:"partial_match_floor"`
	GoodRatio         float64  `yaml:"good_ratio" mapstructure:"good_ratio"`
	PartialRatio      float64  `yaml:"partial_ratio" mapstructure:"partial_ratio"`
	TokenSimilarity   float64  `yaml:"token_similarity" mapstructure:"token_similarity"`
	StopPhrases       []string `yaml:"stop_phrases" mapstructure:"stop_phrases"`
	AdditionalPhrases []string `yaml:"additional_phrases" mapstructure:"additional_phrases"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks configuration completeness for the given command mode.
func Validate(cfg *Config, mode string) error {
	var missing []string

	switch mode {
	case "process", "status":
		if cfg.Store.Driver == "postgres" && cfg.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
		if cfg.Batch.Workers < 1 || cfg.Batch.Workers > 64 {
			missing = append(missing, "batch.workers must be between 1 and 64")
		}
		if cfg.Batch.FileTimeoutSecs <= 0 {
			missing = append(missing, "batch.file_timeout_secs must be > 0")
		}
		if cfg.Match.GoodRatio <= cfg.Match.PartialRatio {
			missing = append(missing, "match.good_ratio must exceed match.partial_ratio")
		}
		if cfg.Match.TokenSimilarity < 0 || cfg.Match.TokenSimilarity > 1 {
			missing = append(missing, "match.token_similarity must be in [0, 1]")
		}
	case "migrate":
		if cfg.Store.Driver == "postgres" && cfg.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TENDERMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.workers", 4)
	v.SetDefault("download.timeout_secs", 120)
	v.SetDefault("download.rate_per_sec", 5)
	v.SetDefault("download.retries", 3)
	v.SetDefault("download.ftp_timeout_secs", 60)
	v.SetDefault("download.max_redownloads", 1)
	v.SetDefault("download.breaker_failures", 5)
	v.SetDefault("download.breaker_reset_secs", 60)
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.tender_batch_size", 20)
	v.SetDefault("batch.cooldown_secs", 5)
	v.SetDefault("batch.file_cooldown_secs", 1)
	v.SetDefault("batch.file_timeout_secs", 300)
	v.SetDefault("batch.reconnect_secs", 30)
	v.SetDefault("match.full_match_score", 100)
	v.SetDefault("match.good_match_floor", 85)
	v.SetDefault("match.partial_match_floor", 56)
	v.SetDefault("match.good_ratio", 0.6)
	v.SetDefault("match.partial_ratio", 0.5)
	v.SetDefault("match.token_similarity", 0.85)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
