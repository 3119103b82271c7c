// Package system wires the registry, state log, cache, and auth stores
// into the single broker object handlers operate against (spec §9 "Global
// process state": an explicit broker object constructed at startup and
// threaded into handlers, replacing ad-hoc singletons).
package system

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamhouse/broker/internal/brokererr"
	"github.com/streamhouse/broker/internal/streaming/auth"
	"github.com/streamhouse/broker/internal/streaming/cache"
	"github.com/streamhouse/broker/internal/streaming/state"
	"github.com/streamhouse/broker/internal/streaming/topic"
	"github.com/streamhouse/broker/pkg/proto"
)

// System is the broker's single in-memory state object. It is guarded by
// one readers-writer lock: read-path commands (poll, lookups) take the
// read side, structural commands (create/delete, user management) take
// the write side. Per-partition append serialization happens inside
// Registry/Partition, nested under this lock (spec §5 Shared state).
type System struct {
	mu sync.RWMutex

	Registry      *topic.Registry
	Cache         *cache.Cache
	Users         *auth.UserStore
	Sessions      *auth.SessionManager
	Permissioner  *auth.Permissioner
	StateLog      *state.Log

	logger *logrus.Logger
}

// Options configures a new System.
type Options struct {
	RootDir           string
	CacheLimitBytes   uint64
	CacheEnabled      bool
	TotalSystemMemory uint64
	RootPassword      string
	Logger            *logrus.Logger

	// MaxSegmentBytes and IndexGranularity size every partition's segment
	// files; zero defaults to the segment package's own defaults.
	MaxSegmentBytes  uint32
	IndexGranularity uint32
	// Rollover bounds an active segment's lifetime before it is proactively
	// sealed (spec §4.3 Rollover policy).
	Rollover topic.RolloverPolicy
}

// New constructs a System: opens the cache, user store, state log, and
// registry, but does not yet replay the state log (see Start).
func New(opts Options) (*System, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	c, err := cache.New(cache.Options{
		LimitBytes:        opts.CacheLimitBytes,
		Enabled:           opts.CacheEnabled,
		TotalSystemMemory: opts.TotalSystemMemory,
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.KindCacheOversubscribed, err, "construct cache")
	}

	users, err := auth.NewUserStore(opts.RootPassword)
	if err != nil {
		return nil, err
	}

	stateLog, err := state.Open(filepath.Join(opts.RootDir, "state.log"), opts.Logger)
	if err != nil {
		return nil, err
	}

	registry := topic.New(topic.Options{
		RootDir:          opts.RootDir,
		Cache:            c,
		Logger:           opts.Logger,
		MaxSegmentBytes:  opts.MaxSegmentBytes,
		IndexGranularity: opts.IndexGranularity,
		Rollover:         opts.Rollover,
	})

	s := &System{
		Registry:     registry,
		Cache:        c,
		Users:        users,
		Sessions:     auth.NewSessionManager(users),
		Permissioner: auth.NewPermissioner(users),
		StateLog:     stateLog,
		logger:       opts.Logger,
	}
	return s, nil
}

// Start replays the durable state log against s before the broker accepts
// client connections (spec §4.6 Apply contract).
func (s *System) Start() error {
	return s.StateLog.Replay(s)
}

// Apply implements state.Applier: it re-executes a durable administrative
// command against the in-memory registry on replay; the validate flag is
// ignored. RecordAndApply does not call it: fresh writes run the
// handler's own apply function.
func (s *System) Apply(entry state.Entry, validate bool) error {
	switch entry.Code {
	case state.CodeCreateStream:
		cmd, err := proto.CreateStreamFromBytes(entry.Payload)
		if err != nil {
			return err
		}
		_, err = s.Registry.CreateStream(cmd.StreamID, cmd.Name)
		return err
	case state.CodeDeleteStream:
		id, err := decodeU32(entry.Payload)
		if err != nil {
			return err
		}
		return s.Registry.DeleteStream(id)
	case state.CodeCreateTopic:
		cmd, err := proto.CreateTopicFromBytes(entry.Payload)
		if err != nil {
			return err
		}
		_, err = s.Registry.CreateTopic(cmd.StreamID, cmd.TopicID, cmd.Name, cmd.PartitionsCount,
			cmd.MessageExpiryMs, cmd.MaxSizeBytes, cmd.MaxSizeBytes == 0, cmd.ReplicationFactor)
		return err
	case state.CodeDeleteTopic:
		if len(entry.Payload) != 8 {
			return brokererr.New(brokererr.KindCorruptState)
		}
		streamID, _ := decodeU32(entry.Payload[0:4])
		topicID, _ := decodeU32(entry.Payload[4:8])
		return s.Registry.DeleteTopic(streamID, topicID)
	case state.CodeCreatePartitions:
		cmd, err := proto.CreatePartitionsFromBytes(entry.Payload)
		if err != nil {
			return err
		}
		return s.Registry.CreatePartitions(cmd.StreamID, cmd.TopicID, cmd.PartitionsCount)
	case state.CodeDeletePartitions:
		cmd, err := proto.DeletePartitionsFromBytes(entry.Payload)
		if err != nil {
			return err
		}
		return s.Registry.DeletePartitions(cmd.StreamID, cmd.TopicID, cmd.PartitionsCount)
	case state.CodeStoreConsumerOffset:
		cmd, err := proto.StoreConsumerOffsetFromBytes(entry.Payload)
		if err != nil {
			return err
		}
		p, err := s.Registry.Partition(cmd.StreamID, cmd.TopicID, cmd.PartitionID)
		if err != nil {
			return err
		}
		return p.StoreConsumerOffset(cmd.Consumer, cmd.Offset)
	default:
		s.logger.WithField("code", entry.Code).Warn("unhandled state log code during replay")
		return nil
	}
}

func decodeU32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, brokererr.New(brokererr.KindCorruptState)
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// WithReadLock runs fn holding the broker-wide read lock, for read-path
// commands (poll, offset queries, listings).
func (s *System) WithReadLock(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

// WithWriteLock runs fn holding the broker-wide write lock, for structural
// commands (create/delete stream/topic/partition, user management).
func (s *System) WithWriteLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// RecordAndApply durably appends a state log entry for userID/code/payload
// and applies it in-memory in one logical step (spec §4.6, §5 "a
// create_partition command completes only after both the state log and
// the new partition directory are durably persisted").
//
// If the state log append fails after apply has already taken effect,
// rollback is invoked to undo the in-memory change so memory and the
// durable log stay in agreement; the command still returns the append
// error. rollback may be nil when apply's effect is not cleanly
// reversible (e.g. a delete that already removed segments from disk) —
// in that case, or if rollback itself fails, the broker aborts rather
// than continue with memory and the state log disagreeing (spec §7).
func (s *System) RecordAndApply(userID uint32, code state.Code, payload []byte, apply func() error, rollback func() error) error {
	if err := apply(); err != nil {
		return err
	}
	_, err := s.StateLog.Append(userID, code, uint64(time.Now().UnixMicro()), payload)
	if err == nil {
		return nil
	}

	s.logger.WithError(err).Error("state log append failed after in-memory apply; rolling back")
	if rollback == nil {
		s.logger.WithError(err).Fatal("in-memory change is not reversible; state log and memory now disagree")
	}
	if rbErr := rollback(); rbErr != nil {
		s.logger.WithError(rbErr).Fatal("rollback of in-memory change failed; state log and memory now disagree")
	}
	return err
}

// Close releases every held resource.
func (s *System) Close() error {
	return s.StateLog.Close()
}
