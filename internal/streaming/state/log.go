// Package state implements the durable, ordered log of administrative
// mutations (spec §4.6): stream, topic, partition and consumer-offset
// mutations are appended here before being acknowledged, and replayed in
// order on startup to rebuild the in-memory topology. User, password,
// personal-access-token and permission changes are not recorded.
package state

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	natefinchatomic "github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/streamhouse/broker/internal/brokererr"
)

// Code identifies the kind of administrative mutation a state entry
// records (spec §4.6 Command codes, non-exhaustive).
type Code uint8

const (
	CodeCreateStream Code = iota + 1
	CodeDeleteStream
	CodeCreateTopic
	CodeUpdateTopic
	CodeDeleteTopic
	CodeCreatePartitions
	CodeDeletePartitions
	CodeCreateUser
	CodeUpdateUser
	CodeDeleteUser
	CodeChangePassword
	CodeCreatePersonalAccessToken
	CodeDeletePersonalAccessToken
	CodeAssignPermissions
	CodeRevokePermissions
	CodeStoreConsumerOffset
)

// Entry is one durable record: seq u64 | timestamp_us u64 | user_id u32 |
// code u8 | payload_length u32 | payload bytes.
type Entry struct {
	Seq         uint64
	TimestampUs uint64
	UserID      uint32
	Code        Code
	Payload     []byte
}

const entryFixedSize = 8 + 8 + 4 + 1 + 4

func encodeEntry(e Entry) []byte {
	buf := make([]byte, entryFixedSize+len(e.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], e.Seq)
	binary.LittleEndian.PutUint64(buf[8:16], e.TimestampUs)
	binary.LittleEndian.PutUint32(buf[16:20], e.UserID)
	buf[20] = byte(e.Code)
	binary.LittleEndian.PutUint32(buf[21:25], uint32(len(e.Payload)))
	copy(buf[25:], e.Payload)
	return buf
}

func decodeEntry(r io.Reader) (Entry, error) {
	var hdr [entryFixedSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Entry{}, err
	}
	e := Entry{
		Seq:         binary.LittleEndian.Uint64(hdr[0:8]),
		TimestampUs: binary.LittleEndian.Uint64(hdr[8:16]),
		UserID:      binary.LittleEndian.Uint32(hdr[16:20]),
		Code:        Code(hdr[20]),
	}
	payloadLen := binary.LittleEndian.Uint32(hdr[21:25])
	if payloadLen > 0 {
		e.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, e.Payload); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

// Applier executes the effect of a replayed or freshly appended entry
// against the in-memory broker state. Implementations must be idempotent
// when validate is false, since replay suppresses validation for
// already-consistent state (spec §4.6 Apply contract).
type Applier interface {
	Apply(entry Entry, validate bool) error
}

// Log is the append-only state log file at the broker root.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	seq  uint64

	logger *logrus.Logger
}

// Open opens (creating if absent) the state log at path. It does not
// replay entries; call Replay separately once an Applier is constructed.
func Open(path string, logger *logrus.Logger) (*Log, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "open state log")
	}
	return &Log{path: path, file: f, logger: logger}, nil
}

// Replay reads every entry in seq order and applies it via applier with
// validation suppressed. An entry that fails validation aborts startup
// with CorruptState — it is never silently skipped (spec §4.6).
func (l *Log) Replay(applier Applier) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "seek state log for replay")
	}

	var lastSeq uint64
	for {
		entry, err := decodeEntry(l.file)
		if err == io.EOF {
			break
		}
		if err != nil {
			return brokererr.Wrap(brokererr.KindCorruptState, err, "decode state log entry")
		}
		if entry.Seq != lastSeq+1 {
			return brokererr.Wrapf(brokererr.KindCorruptState, fmt.Errorf("gap"), "state log sequence gap: expected %d got %d", lastSeq+1, entry.Seq)
		}
		if err := applier.Apply(entry, false); err != nil {
			return brokererr.Wrap(brokererr.KindCorruptState, err, "apply replayed state log entry")
		}
		lastSeq = entry.Seq
	}

	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "seek state log to tail after replay")
	}
	l.seq = lastSeq
	return nil
}

// Append durably records a new entry and returns it with its assigned seq.
// The entry is fsynced before returning, per spec §4.6 ("write then fsync
// before acknowledging the originating command").
func (l *Log) Append(userID uint32, code Code, timestampUs uint64, payload []byte) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	entry := Entry{
		Seq:         l.seq,
		TimestampUs: timestampUs,
		UserID:      userID,
		Code:        code,
		Payload:     payload,
	}

	if _, err := l.file.Write(encodeEntry(entry)); err != nil {
		l.seq--
		return Entry{}, brokererr.Wrap(brokererr.KindIoError, err, "append state log entry")
	}
	if err := l.file.Sync(); err != nil {
		l.seq--
		return Entry{}, brokererr.Wrap(brokererr.KindIoError, err, "fsync state log entry")
	}
	return entry, nil
}

// Checkpoint atomically rewrites the state log to contain exactly the
// given entries (used after compaction), via an atomic rename so a crash
// mid-write never leaves a corrupt log.
func (l *Log) Checkpoint(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf []byte
	for _, e := range entries {
		buf = append(buf, encodeEntry(e)...)
	}

	if err := natefinchatomic.WriteFile(l.path, bytesReader(buf)); err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "checkpoint state log")
	}

	if err := l.file.Close(); err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "close state log before reopen")
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "reopen state log after checkpoint")
	}
	l.file = f
	if len(entries) > 0 {
		l.seq = entries[len(entries)-1].Seq
	}
	return nil
}

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b   []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

// Close releases the log file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
