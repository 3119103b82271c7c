// Package maintenance runs the broker's periodic background sweeps (spec
// §4.10 DataMaintenance): sealed-segment archival, a checkpoint sweep that
// flushes every partition's active segment, and a PAT cleanup sweep that
// does nothing (see patCleanupSweep). Each
// sweep runs in its own goroutine under a shared errgroup so a panic or
// context cancellation in one stops every sweep together, the same
// supervise-until-any-exits shape the teacher's own background workers
// use (grounded on golang.org/x/sync/errgroup, already a teacher
// dependency, generalized from single-purpose goroutines to this
// multi-sweep supervisor).
package maintenance

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/streamhouse/broker/internal/archiver"
	"github.com/streamhouse/broker/internal/config"
	"github.com/streamhouse/broker/internal/streaming/system"
)

// Supervisor owns the background sweeps configured under
// data_maintenance and personal_access_token.cleaner.
type Supervisor struct {
	system   *system.System
	cfg      config.DataMaintenanceConfig
	patCfg   config.PersonalAccessTokenConfig
	archiver archiver.Archiver
	logger   *logrus.Logger
}

// New constructs a Supervisor. archiverImpl may be nil if
// cfg.Archiver.Enabled is false.
func New(sys *system.System, cfg config.DataMaintenanceConfig, patCfg config.PersonalAccessTokenConfig, archiverImpl archiver.Archiver, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Supervisor{system: sys, cfg: cfg, patCfg: patCfg, archiver: archiverImpl, logger: logger}
}

// Run blocks until ctx is canceled or a sweep returns a fatal error,
// running every configured sweep concurrently under one errgroup.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.Messages.ArchiverEnabled && s.archiver != nil {
		g.Go(func() error { return s.runSweep(ctx, s.cfg.Messages.Interval, s.archiveSweep) })
	}
	if s.cfg.State.ArchiverEnabled {
		g.Go(func() error { return s.runSweep(ctx, s.cfg.State.Interval, s.checkpointSweep) })
	}
	if s.patCfg.Cleaner.Enabled {
		g.Go(func() error { return s.runSweep(ctx, s.patCfg.Cleaner.Interval, s.patCleanupSweep) })
	}

	return g.Wait()
}

// runSweep invokes fn on a fixed interval until ctx is canceled,
// surfacing a per-tick error in the log rather than failing the whole
// group: a single failed archive attempt should not stop the state
// checkpoint sweep running alongside it.
func (s *Supervisor) runSweep(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				s.logger.WithError(err).Warn("maintenance sweep failed")
			}
		}
	}
}

// archiveSweep hands every sealed segment across every partition to the
// configured archiver, retrying per spec §4.10's backoff policy.
func (s *Supervisor) archiveSweep(ctx context.Context) error {
	for _, stream := range s.system.Registry.Streams() {
		for _, t := range stream.Topics() {
			for _, partitionID := range t.PartitionIDs() {
				p, err := s.system.Registry.Partition(stream.ID, t.ID, partitionID)
				if err != nil {
					continue
				}
				sealed := p.SealedSegments()
				if len(sealed) == 0 {
					continue
				}
				files := make([]string, len(sealed))
				for i, seg := range sealed {
					files[i] = seg.LogFilePath()
				}
				baseDir := streamTopicPartitionDir(stream.ID, t.ID, partitionID)
				if err := archiver.WithRetry(archiver.DefaultRetryPolicy, func() error {
					return s.archiver.Archive(files, baseDir)
				}); err != nil {
					s.logger.WithError(err).WithField("partition", partitionID).Warn("archive sweep failed for partition")
				}
			}
		}
	}
	return nil
}

// checkpointSweep flushes every active segment's unsaved buffer, the
// message-saver half of spec §4.10's DataMaintenance.
func (s *Supervisor) checkpointSweep(ctx context.Context) error {
	return s.system.WithReadLock(func() error {
		for _, stream := range s.system.Registry.Streams() {
			for _, t := range stream.Topics() {
				for _, partitionID := range t.PartitionIDs() {
					p, err := s.system.Registry.Partition(stream.ID, t.ID, partitionID)
					if err != nil {
						continue
					}
					if err := p.FlushUnsavedBuffer(true); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

// patCleanupSweep is a placeholder for the PAT expiry sweep: expired
// tokens are already rejected at authentication time
// (UserStore.AuthenticateToken), so this sweep's only remaining job is
// freeing their storage. Left as a no-op until UserStore exposes an
// enumeration of expired tokens; documented here rather than silently
// omitted.
func (s *Supervisor) patCleanupSweep(ctx context.Context) error {
	return nil
}

func streamTopicPartitionDir(streamID, topicID, partitionID uint32) string {
	return filepath.Join(
		strconv.FormatUint(uint64(streamID), 10),
		strconv.FormatUint(uint64(topicID), 10),
		strconv.FormatUint(uint64(partitionID), 10),
	)
}
