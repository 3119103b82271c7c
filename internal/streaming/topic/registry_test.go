package topic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/pkg/proto"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(Options{RootDir: t.TempDir()})
}

func TestCreateStreamAndTopic(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.CreateStream(1, "s")
	require.NoError(t, err)
	require.Equal(t, uint32(1), s.ID)

	topic, err := r.CreateTopic(1, 1, "t", 2, 0, 0, true, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), topic.ID)
	require.Len(t, topic.PartitionIDs(), 2)
}

func TestCreateStreamDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateStream(1, "s")
	require.NoError(t, err)

	_, err = r.CreateStream(2, "s")
	require.Error(t, err)
	require.Equal(t, brokererr.KindResourceAlreadyExists, brokererr.KindOf(err))
}

func TestCreateStreamDenseIDAssignment(t *testing.T) {
	r := newTestRegistry(t)
	s1, err := r.CreateStream(0, "a")
	require.NoError(t, err)
	require.Equal(t, uint32(1), s1.ID)

	s2, err := r.CreateStream(0, "b")
	require.NoError(t, err)
	require.Equal(t, uint32(2), s2.ID)
}

func TestCreateTopicInvalidPartitionsCount(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateStream(1, "s")
	require.NoError(t, err)

	_, err = r.CreateTopic(1, 1, "t", 0, 0, 0, true, 1)
	require.Error(t, err)
	require.Equal(t, brokererr.KindInvalidPartitionsCount, brokererr.KindOf(err))
}

func TestDeletePartitionsHighestNumberedFirst(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateStream(1, "s")
	require.NoError(t, err)
	_, err = r.CreateTopic(1, 1, "t", 5, 0, 0, true, 1)
	require.NoError(t, err)

	require.NoError(t, r.DeletePartitions(1, 1, 2))

	topicObj, err := r.Topic(1, 1)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3}, topicObj.PartitionIDs())
}

func TestDeletePartitionsValidatesIDs(t *testing.T) {
	r := newTestRegistry(t)

	err := r.DeletePartitions(0, 1, 1)
	require.Error(t, err)
	require.Equal(t, brokererr.KindInvalidStreamID, brokererr.KindOf(err))

	err = r.DeletePartitions(1, 0, 1)
	require.Error(t, err)
	require.Equal(t, brokererr.KindInvalidTopicID, brokererr.KindOf(err))
}

func TestDeleteStreamCascades(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateStream(1, "s")
	require.NoError(t, err)
	_, err = r.CreateTopic(1, 1, "t", 1, 0, 0, true, 1)
	require.NoError(t, err)

	require.NoError(t, r.DeleteStream(1))

	_, err = r.Stream(1)
	require.Error(t, err)
	require.Equal(t, brokererr.KindResourceNotFound, brokererr.KindOf(err))
}

func TestDeleteStreamRemovesSegmentsFromDisk(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateStream(1, "s")
	require.NoError(t, err)
	_, err = r.CreateTopic(1, 1, "t", 1, 0, 0, true, 1)
	require.NoError(t, err)

	p, err := r.Partition(1, 1, 1)
	require.NoError(t, err)
	_, _, err = p.Append(1, []proto.Message{{Payload: []byte("secret")}})
	require.NoError(t, err)
	streamDir := filepath.Join(r.rootDir, "streams", idString(1))
	_, err = os.Stat(streamDir)
	require.NoError(t, err)

	require.NoError(t, r.DeleteStream(1))
	_, err = os.Stat(streamDir)
	require.True(t, os.IsNotExist(err))

	// Recreating the same dense stream/topic id must not resurrect the
	// deleted messages: the directory is gone, so the reopened partition
	// starts from a fresh, empty segment.
	_, err = r.CreateStream(1, "s")
	require.NoError(t, err)
	_, err = r.CreateTopic(1, 1, "t", 1, 0, 0, true, 1)
	require.NoError(t, err)
	p2, err := r.Partition(1, 1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), p2.CurrentOffset())
}

func TestDeleteTopicRemovesSegmentsFromDisk(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateStream(1, "s")
	require.NoError(t, err)
	_, err = r.CreateTopic(1, 1, "t", 1, 0, 0, true, 1)
	require.NoError(t, err)

	topicDir := filepath.Join(r.rootDir, "streams", idString(1), idString(1))
	_, err = os.Stat(topicDir)
	require.NoError(t, err)

	require.NoError(t, r.DeleteTopic(1, 1))
	_, err = os.Stat(topicDir)
	require.True(t, os.IsNotExist(err))
}

func TestDeletePartitionsRemovesSegmentsFromDisk(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateStream(1, "s")
	require.NoError(t, err)
	_, err = r.CreateTopic(1, 1, "t", 2, 0, 0, true, 1)
	require.NoError(t, err)

	partitionDir := filepath.Join(r.rootDir, "streams", idString(1), idString(1), idString(2))
	_, err = os.Stat(partitionDir)
	require.NoError(t, err)

	require.NoError(t, r.DeletePartitions(1, 1, 1))
	_, err = os.Stat(partitionDir)
	require.True(t, os.IsNotExist(err))
}
