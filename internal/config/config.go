// Package config loads and validates the broker's configuration (spec §6
// Environment variables / config). Defaults are set on a viper instance,
// overridden by a config file and STREAMHOUSE_-prefixed environment
// variables, then unmarshaled into a Config and validated section by
// section, mirroring the original server's validators (each section owns
// its own Validate, composed from the top down).
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/codec"
	"github.com/streamhouse/broker/internal/streaming/segment"
)

// Config is the fully-resolved broker configuration.
type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	System          SystemConfig          `mapstructure:"system"`
	DataMaintenance DataMaintenanceConfig `mapstructure:"data_maintenance"`
	PersonalAccessToken PersonalAccessTokenConfig `mapstructure:"personal_access_token"`
	Telemetry       TelemetryConfig       `mapstructure:"telemetry"`
	HTTP            HTTPConfig            `mapstructure:"http"`
}

// ServerConfig holds the TCP listener and root data directory settings.
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	RootPassword string `mapstructure:"root_password"`
	DataDir      string `mapstructure:"data_dir"`
}

// SystemConfig groups the in-process streaming engine's tunables.
type SystemConfig struct {
	Segment     SegmentConfig     `mapstructure:"segment"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Compression CompressionConfig `mapstructure:"compression"`
	Topic       TopicConfig       `mapstructure:"topic"`
}

// TopicConfig sets the default ceiling applied to a topic's max_size
// field, used to reject a segment configuration larger than any topic
// could ever hold.
type TopicConfig struct {
	MaxSizeBytes  uint64 `mapstructure:"max_size_bytes"`
	UnlimitedSize bool   `mapstructure:"unlimited_size"`
}

// SegmentConfig bounds a single segment file's size (spec §4.2).
type SegmentConfig struct {
	SizeBytes        uint64 `mapstructure:"size_bytes"`
	IndexGranularity uint32 `mapstructure:"index_granularity"`
}

// Validate enforces the segment size cap against the hard offset-index
// ceiling (grounded on validators.rs's SegmentConfig::validate).
func (c SegmentConfig) Validate() error {
	if c.SizeBytes > uint64(segment.MaxSizeBytes) {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	return nil
}

// CacheConfig bounds the in-memory batch cache (spec §4.4).
type CacheConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	LimitBytes uint64 `mapstructure:"limit_bytes"`
}

// Validate rejects a cache limit above total system memory outright and
// warns above 75%, matching validators.rs's CacheConfig::validate. The
// System's cache constructor performs the same check again at
// construction time; this early validation exists so a misconfigured
// server fails at startup instead of silently degrading.
func (c CacheConfig) Validate(logger Logger, totalMemory uint64) error {
	if totalMemory > 0 && c.LimitBytes > totalMemory {
		return brokererr.New(brokererr.KindCacheOversubscribed)
	}
	if totalMemory > 0 && c.LimitBytes > totalMemory*75/100 {
		logger.Warnf("cache configuration: cache size exceeds 75%% of total memory (limit_bytes=%d total_memory=%d)", c.LimitBytes, totalMemory)
	}
	if c.Enabled {
		logger.Infof("cache configuration: cache enabled with limit_bytes=%d", c.LimitBytes)
	} else {
		logger.Infof("cache configuration: cache is disabled")
	}
	return nil
}

// CompressionConfig names the default compression algorithm applied to
// batches. Selecting anything other than "none" only logs a warning: the
// server does not yet apply compression on the wire or on disk (spec §9
// Open questions).
type CompressionConfig struct {
	DefaultAlgorithm string `mapstructure:"default_algorithm"`
}

// Validate rejects an algorithm name the codec registry doesn't know;
// a known but non-"none" algorithm only warns, mirroring
// validators.rs's CompressionConfig::validate.
func (c CompressionConfig) Validate(logger Logger) error {
	name := c.DefaultAlgorithm
	if name == "" {
		name = string(codec.None)
	}
	if !codec.Valid(name) {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	if name != string(codec.None) {
		logger.Warnf("server started with compression enabled, using algorithm %q: this feature is not implemented yet", name)
	}
	return nil
}

// TelemetryConfig configures optional OTLP export. Validate only checks
// non-empty endpoints when telemetry is enabled.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	LogsEndpoint   string `mapstructure:"logs_endpoint"`
	TracesEndpoint string `mapstructure:"traces_endpoint"`
}

func (c TelemetryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	if c.LogsEndpoint == "" {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	if c.TracesEndpoint == "" {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	return nil
}

// HTTPConfig configures the optional JSON gateway (C_HTTP) exposing a
// subset of operations over net/http.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// MessageSaverConfig configures the periodic unsaved-buffer flush sweep.
type MessageSaverConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

func (c MessageSaverConfig) Validate() error {
	if c.Enabled && c.Interval <= 0 {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	return nil
}

// MessagesMaintenanceConfig configures the retention/archive sweep over
// sealed segments.
type MessagesMaintenanceConfig struct {
	ArchiverEnabled bool          `mapstructure:"archiver_enabled"`
	Interval        time.Duration `mapstructure:"interval"`
}

func (c MessagesMaintenanceConfig) Validate() error {
	if c.ArchiverEnabled && c.Interval <= 0 {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	return nil
}

// StateMaintenanceConfig configures the periodic checkpoint sweep, which
// flushes every partition's active segment to disk.
type StateMaintenanceConfig struct {
	ArchiverEnabled bool          `mapstructure:"archiver_enabled"`
	Interval        time.Duration `mapstructure:"interval"`
}

func (c StateMaintenanceConfig) Validate() error {
	if c.ArchiverEnabled && c.Interval <= 0 {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	return nil
}

// ArchiverKind selects the archival backend.
type ArchiverKind string

const (
	ArchiverDisk ArchiverKind = "disk"
	ArchiverS3   ArchiverKind = "s3"
)

// DiskArchiverConfig configures the disk-backed archiver.
type DiskArchiverConfig struct {
	Path string `mapstructure:"path"`
}

// S3ArchiverConfig configures the (unimplemented) S3-backed archiver.
type S3ArchiverConfig struct {
	KeyID     string `mapstructure:"key_id"`
	KeySecret string `mapstructure:"key_secret"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
}

// ArchiverConfig configures the pluggable archival sink (spec §4.10).
type ArchiverConfig struct {
	Enabled bool               `mapstructure:"enabled"`
	Kind    ArchiverKind       `mapstructure:"kind"`
	Disk    *DiskArchiverConfig `mapstructure:"disk"`
	S3      *S3ArchiverConfig   `mapstructure:"s3"`
}

// Validate enforces that the selected backend's required fields are
// present, mirroring validators.rs's ArchiverConfig::validate exactly.
func (c ArchiverConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Kind {
	case ArchiverDisk:
		if c.Disk == nil || c.Disk.Path == "" {
			return brokererr.New(brokererr.KindInvalidConfiguration)
		}
		return nil
	case ArchiverS3:
		if c.S3 == nil {
			return brokererr.New(brokererr.KindInvalidConfiguration)
		}
		s3 := c.S3
		if s3.KeyID == "" || s3.KeySecret == "" || s3.Bucket == "" {
			return brokererr.New(brokererr.KindInvalidConfiguration)
		}
		if s3.Endpoint == "" && s3.Region == "" {
			return brokererr.New(brokererr.KindInvalidConfiguration)
		}
		return nil
	default:
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
}

// DataMaintenanceConfig composes the archiver and the two periodic
// sweeps that feed it (spec §4.10).
type DataMaintenanceConfig struct {
	Archiver ArchiverConfig            `mapstructure:"archiver"`
	Messages MessagesMaintenanceConfig `mapstructure:"messages"`
	State    StateMaintenanceConfig    `mapstructure:"state"`
}

func (c DataMaintenanceConfig) Validate() error {
	if err := c.Archiver.Validate(); err != nil {
		return err
	}
	if err := c.Messages.Validate(); err != nil {
		return err
	}
	if err := c.State.Validate(); err != nil {
		return err
	}
	return nil
}

// PersonalAccessTokenCleanerConfig configures the sweep that expires
// personal access tokens past their ExpiresAt.
type PersonalAccessTokenCleanerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// PersonalAccessTokenConfig bounds per-user token issuance (spec §4.8).
type PersonalAccessTokenConfig struct {
	MaxTokensPerUser uint32                           `mapstructure:"max_tokens_per_user"`
	Cleaner          PersonalAccessTokenCleanerConfig `mapstructure:"cleaner"`
}

func (c PersonalAccessTokenConfig) Validate() error {
	if c.MaxTokensPerUser == 0 {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	if c.Cleaner.Enabled && c.Cleaner.Interval <= 0 {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}
	return nil
}

// Logger is the minimal logging surface Validate needs; *logrus.Logger
// satisfies it.
type Logger interface {
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

// Validate runs every section's own Validate in the same order the
// original server composes them, then checks the cross-section
// invariant that a topic can never be configured smaller than a single
// segment (validators.rs's ServerConfig::validate).
func (c Config) Validate(logger Logger, totalMemory uint64) error {
	if err := c.DataMaintenance.Validate(); err != nil {
		return err
	}
	if err := c.PersonalAccessToken.Validate(); err != nil {
		return err
	}
	if err := c.System.Segment.Validate(); err != nil {
		return err
	}
	if err := c.System.Cache.Validate(logger, totalMemory); err != nil {
		return err
	}
	if err := c.System.Compression.Validate(logger); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}

	topicSize := c.System.Topic.MaxSizeBytes
	if c.System.Topic.UnlimitedSize {
		topicSize = ^uint64(0)
	}
	if !c.System.Topic.UnlimitedSize && topicSize < c.System.Segment.SizeBytes {
		return brokererr.New(brokererr.KindInvalidConfiguration)
	}

	return nil
}

// Load reads configuration from hard-coded defaults, an optional file
// path, and environment variables prefixed STREAMHOUSE_, in that
// ascending order of precedence (environment variables win).
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("streamhouse")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0:8090")
	v.SetDefault("server.root_password", "iggy")
	v.SetDefault("server.data_dir", "./streamhouse_data")

	v.SetDefault("system.segment.size_bytes", uint64(1<<30))
	v.SetDefault("system.segment.index_granularity", segment.DefaultIndexGranularity)

	v.SetDefault("system.cache.enabled", true)
	v.SetDefault("system.cache.limit_bytes", uint64(512<<20))

	v.SetDefault("system.compression.default_algorithm", "none")

	v.SetDefault("system.topic.unlimited_size", true)
	v.SetDefault("system.topic.max_size_bytes", uint64(0))

	v.SetDefault("data_maintenance.archiver.enabled", false)
	v.SetDefault("data_maintenance.archiver.kind", string(ArchiverDisk))
	v.SetDefault("data_maintenance.messages.archiver_enabled", false)
	v.SetDefault("data_maintenance.messages.interval", 30*time.Second)
	v.SetDefault("data_maintenance.state.archiver_enabled", false)
	v.SetDefault("data_maintenance.state.interval", time.Minute)

	v.SetDefault("personal_access_token.max_tokens_per_user", 100)
	v.SetDefault("personal_access_token.cleaner.enabled", true)
	v.SetDefault("personal_access_token.cleaner.interval", time.Hour)

	v.SetDefault("telemetry.enabled", false)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.address", "0.0.0.0:8080")
}
