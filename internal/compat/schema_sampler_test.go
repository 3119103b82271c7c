package compat

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/pkg/proto"
)

func writeTestSegment(t *testing.T, baseOffset uint64) (string, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "segment.log")
	indexPath := filepath.Join(dir, "segment.index")

	batch := proto.NewBatch(baseOffset, 1000, 1, []proto.Message{
		{Offset: baseOffset, TimestampUs: 1000, Payload: []byte("hello")},
	})
	var buf []byte
	buf = proto.EncodeBatch(buf, batch)
	require.NoError(t, os.WriteFile(logPath, buf, 0644))

	var entry [8]byte
	binary.LittleEndian.PutUint32(entry[0:4], 0)
	binary.LittleEndian.PutUint32(entry[4:8], 0) // file position of the first batch
	require.NoError(t, os.WriteFile(indexPath, entry[:], 0644))

	return logPath, indexPath
}

func TestRetainedBatchSamplerMatchesStartOffset(t *testing.T) {
	logPath, indexPath := writeTestSegment(t, 42)
	sampler := NewRetainedBatchSampler(42, logPath, indexPath)

	schema, err := sampler.TrySample()
	require.NoError(t, err)
	require.Equal(t, SchemaRetainedBatch, schema)
}

func TestRetainedBatchSamplerOffsetMismatch(t *testing.T) {
	logPath, indexPath := writeTestSegment(t, 42)
	sampler := NewRetainedBatchSampler(7, logPath, indexPath)

	_, err := sampler.TrySample()
	require.Error(t, err)
}

func TestRetainedBatchSamplerEmptyLogIsCurrentSchema(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "segment.log")
	indexPath := filepath.Join(dir, "segment.index")
	require.NoError(t, os.WriteFile(logPath, nil, 0644))
	require.NoError(t, os.WriteFile(indexPath, nil, 0644))

	sampler := NewRetainedBatchSampler(0, logPath, indexPath)
	schema, err := sampler.TrySample()
	require.NoError(t, err)
	require.Equal(t, SchemaRetainedBatch, schema)
}

func TestLegacyMessageSamplerAlwaysFails(t *testing.T) {
	sampler := &LegacyMessageSampler{}
	_, err := sampler.TrySample()
	require.Error(t, err)
}

func TestDetectFallsThroughToFirstSuccess(t *testing.T) {
	logPath, indexPath := writeTestSegment(t, 0)
	schema, err := Detect(0, logPath, indexPath)
	require.NoError(t, err)
	require.Equal(t, SchemaRetainedBatch, schema)
}
