package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/internal/brokererr"
)

func validConfig() Config {
	return Config{
		System: SystemConfig{
			Segment:     SegmentConfig{SizeBytes: 1 << 20, IndexGranularity: 4096},
			Cache:       CacheConfig{Enabled: true, LimitBytes: 1 << 19},
			Compression: CompressionConfig{DefaultAlgorithm: "none"},
			Topic:       TopicConfig{UnlimitedSize: true},
		},
		DataMaintenance: DataMaintenanceConfig{
			Archiver: ArchiverConfig{Enabled: false},
			Messages: MessagesMaintenanceConfig{ArchiverEnabled: false},
			State:    StateMaintenanceConfig{ArchiverEnabled: false},
		},
		PersonalAccessToken: PersonalAccessTokenConfig{MaxTokensPerUser: 10},
		Telemetry:           TelemetryConfig{Enabled: false},
	}
}

func TestValidConfigPasses(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate(logrus.New(), 1<<30))
}

func TestSegmentSizeAboveCeilingFails(t *testing.T) {
	cfg := validConfig()
	cfg.System.Segment.SizeBytes = uint64(^uint32(0)) + 1
	err := cfg.Validate(logrus.New(), 1<<30)
	require.Error(t, err)
	require.Equal(t, brokererr.KindInvalidConfiguration, brokererr.KindOf(err))
}

func TestCacheLimitAboveTotalMemoryFails(t *testing.T) {
	cfg := validConfig()
	cfg.System.Cache.LimitBytes = 2 << 30
	err := cfg.Validate(logrus.New(), 1<<30)
	require.Error(t, err)
	require.Equal(t, brokererr.KindCacheOversubscribed, brokererr.KindOf(err))
}

func TestTopicSmallerThanSegmentFails(t *testing.T) {
	cfg := validConfig()
	cfg.System.Topic.UnlimitedSize = false
	cfg.System.Topic.MaxSizeBytes = 1 << 10
	cfg.System.Segment.SizeBytes = 1 << 20
	err := cfg.Validate(logrus.New(), 1<<30)
	require.Error(t, err)
	require.Equal(t, brokererr.KindInvalidConfiguration, brokererr.KindOf(err))
}

func TestTelemetryEnabledRequiresEndpoints(t *testing.T) {
	cfg := validConfig()
	cfg.Telemetry = TelemetryConfig{Enabled: true, ServiceName: "broker"}
	err := cfg.Validate(logrus.New(), 1<<30)
	require.Error(t, err)
}

func TestArchiverDiskRequiresPath(t *testing.T) {
	cfg := ArchiverConfig{Enabled: true, Kind: ArchiverDisk, Disk: &DiskArchiverConfig{}}
	err := cfg.Validate()
	require.Error(t, err)
	require.Equal(t, brokererr.KindInvalidConfiguration, brokererr.KindOf(err))
}

func TestArchiverS3RequiresEndpointOrRegion(t *testing.T) {
	cfg := ArchiverConfig{Enabled: true, Kind: ArchiverS3, S3: &S3ArchiverConfig{
		KeyID: "id", KeySecret: "secret", Bucket: "bucket",
	}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestArchiverDisabledSkipsValidation(t *testing.T) {
	cfg := ArchiverConfig{Enabled: false, Kind: ArchiverS3}
	require.NoError(t, cfg.Validate())
}

func TestPersonalAccessTokenZeroMaxFails(t *testing.T) {
	cfg := PersonalAccessTokenConfig{MaxTokensPerUser: 0}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestMessageSaverZeroIntervalWhenEnabledFails(t *testing.T) {
	cfg := MessageSaverConfig{Enabled: true, Interval: 0}
	require.Error(t, cfg.Validate())

	cfg.Interval = time.Second
	require.NoError(t, cfg.Validate())
}

func TestCompressionUnknownAlgorithmFails(t *testing.T) {
	cfg := CompressionConfig{DefaultAlgorithm: "bogus"}
	err := cfg.Validate(logrus.New())
	require.Error(t, err)
	require.Equal(t, brokererr.KindInvalidConfiguration, brokererr.KindOf(err))
}

func TestCompressionEmptyAlgorithmDefaultsToNone(t *testing.T) {
	cfg := CompressionConfig{}
	require.NoError(t, cfg.Validate(logrus.New()))
}

func TestCompressionNonNoneAlgorithmWarnsButPasses(t *testing.T) {
	cfg := CompressionConfig{DefaultAlgorithm: "zstd"}
	require.NoError(t, cfg.Validate(logrus.New()))
}
