package system

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/internal/streaming/state"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	s, err := New(Options{
		RootDir:      t.TempDir(),
		RootPassword: "root-pass",
		Logger:       logrus.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndApplySucceeds(t *testing.T) {
	s := newTestSystem(t)

	applied := false
	err := s.RecordAndApply(1, state.CodeCreateStream, []byte("payload"),
		func() error { applied = true; return nil },
		func() error { applied = false; return nil },
	)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestRecordAndApplyRollsBackOnStateLogFailure(t *testing.T) {
	s := newTestSystem(t)
	// Close the state log out from under RecordAndApply so the Append
	// inside it fails deterministically on the already-closed file,
	// without touching RecordAndApply itself.
	require.NoError(t, s.StateLog.Close())

	applied := false
	rolledBack := false
	err := s.RecordAndApply(1, state.CodeCreateStream, []byte("payload"),
		func() error { applied = true; return nil },
		func() error { rolledBack = true; return nil },
	)
	require.Error(t, err)
	require.True(t, applied, "apply must have run before the append failure was discovered")
	require.True(t, rolledBack, "rollback must run when the state log append fails")
}
