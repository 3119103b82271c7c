package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	applied []Entry
}

func (a *recordingApplier) Apply(entry Entry, validate bool) error {
	a.applied = append(a.applied, entry)
	return nil
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.log")

	l, err := Open(path, nil)
	require.NoError(t, err)

	_, err = l.Append(1, CodeCreateStream, 1000, []byte("stream-a"))
	require.NoError(t, err)
	_, err = l.Append(1, CodeCreateTopic, 1001, []byte("topic-a"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := Open(path, nil)
	require.NoError(t, err)
	defer l2.Close()

	applier := &recordingApplier{}
	require.NoError(t, l2.Replay(applier))
	require.Len(t, applier.applied, 2)
	require.Equal(t, uint64(1), applier.applied[0].Seq)
	require.Equal(t, CodeCreateStream, applier.applied[0].Code)
	require.Equal(t, uint64(2), applier.applied[1].Seq)
}

type failingApplier struct{}

func (failingApplier) Apply(entry Entry, validate bool) error {
	return require.AnError
}

func TestReplayAbortsOnValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.log")
	l, err := Open(path, nil)
	require.NoError(t, err)
	_, err = l.Append(1, CodeCreateStream, 1000, []byte("stream-a"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := Open(path, nil)
	require.NoError(t, err)
	defer l2.Close()

	err = l2.Replay(failingApplier{})
	require.Error(t, err)
}

func TestAppendAssignsDenseSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.log")
	l, err := Open(path, nil)
	require.NoError(t, err)
	defer l.Close()

	e1, err := l.Append(1, CodeCreateStream, 1, nil)
	require.NoError(t, err)
	e2, err := l.Append(1, CodeCreateStream, 2, nil)
	require.NoError(t, err)

	require.Equal(t, uint64(1), e1.Seq)
	require.Equal(t, uint64(2), e2.Seq)
}
