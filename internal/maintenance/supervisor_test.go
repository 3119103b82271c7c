package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/internal/archiver"
	"github.com/streamhouse/broker/internal/config"
	"github.com/streamhouse/broker/internal/streaming/system"
	"github.com/streamhouse/broker/internal/streaming/topic"
	"github.com/streamhouse/broker/pkg/proto"
)

// newTestSystemWithData builds a System whose lone partition rolls a new
// segment after every message, so a single append always leaves one sealed
// segment behind for the archive sweep to pick up.
func newTestSystemWithData(t *testing.T) *system.System {
	t.Helper()
	sys, err := system.New(system.Options{
		RootDir:      t.TempDir(),
		RootPassword: "root-pass",
		Logger:       logrus.New(),
		Rollover:     topic.RolloverPolicy{MaxMessageCount: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })

	_, err = sys.Registry.CreateStream(1, "s")
	require.NoError(t, err)
	_, err = sys.Registry.CreateTopic(1, 1, "t", 1, 0, 0, true, 1)
	require.NoError(t, err)
	return sys
}

func appendSealingSegment(t *testing.T, sys *system.System) {
	t.Helper()
	p, err := sys.Registry.Partition(1, 1, 1)
	require.NoError(t, err)
	_, _, err = p.Append(1, []proto.Message{{Payload: []byte("seal me")}})
	require.NoError(t, err)
}

func TestCheckpointSweepFlushesPartitions(t *testing.T) {
	sys := newTestSystemWithData(t)
	s := New(sys, config.DataMaintenanceConfig{}, config.PersonalAccessTokenConfig{}, nil, logrus.New())

	require.NoError(t, s.checkpointSweep(context.Background()))
}

func TestArchiveSweepCopiesSealedSegments(t *testing.T) {
	sys := newTestSystemWithData(t)
	appendSealingSegment(t, sys)

	p, err := sys.Registry.Partition(1, 1, 1)
	require.NoError(t, err)
	sealed := p.SealedSegments()
	require.NotEmpty(t, sealed, "appending past MaxMessageCount must seal the first segment")

	archiveRoot := t.TempDir()
	disk := archiver.NewDiskArchiver(archiveRoot)
	require.NoError(t, disk.Init())

	s := New(sys, config.DataMaintenanceConfig{}, config.PersonalAccessTokenConfig{}, disk, logrus.New())
	require.NoError(t, s.archiveSweep(context.Background()))

	baseDir := streamTopicPartitionDir(1, 1, 1)
	destination := filepath.Join(archiveRoot, baseDir, sealed[0].LogFilePath())
	_, err = os.Stat(destination)
	require.NoError(t, err, "archiveSweep should copy the sealed segment's log file into the archive root")

	// archiveSweep copies, it never deletes: the segment stays sealed and
	// in the partition's chain until a separate retention step removes it.
	require.NotEmpty(t, p.SealedSegments())
}

func TestSupervisorRunStopsOnContextCancel(t *testing.T) {
	sys := newTestSystemWithData(t)
	cfg := config.DataMaintenanceConfig{
		State: config.StateMaintenanceConfig{ArchiverEnabled: true, Interval: 10 * time.Millisecond},
	}
	s := New(sys, cfg, config.PersonalAccessTokenConfig{}, nil, logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamTopicPartitionDirLayout(t *testing.T) {
	require.Equal(t, filepath.Join("1", "2", "3"), streamTopicPartitionDir(1, 2, 3))
}
