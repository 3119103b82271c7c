// Package archiver implements the pluggable archival sink (C10): a
// narrow capability interface with init/is_archived/archive, backed by a
// concrete disk implementation and an as-yet-unimplemented S3 backend
// (spec §4.10, §9 "Trait-object polymorphism").
package archiver

import (
	"time"

	"github.com/streamhouse/broker/internal/brokererr"
)

// Archiver hands off sealed segments to an external sink.
type Archiver interface {
	Init() error
	IsArchived(file string, baseDir string) (bool, error)
	Archive(files []string, baseDir string) error
}

// RetryPolicy bounds the exponential backoff applied to archive failures.
// Once MaxAttempts is used up, WithRetry returns an ArchiverFailed error
// and the segment stays on disk; no metric is recorded.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors a conservative exponential backoff ceiling.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 30 * time.Second}

// WithRetry runs op, retrying on failure per policy. It does not retry
// FileToArchiveNotFound, which spec §4.10 marks fatal to the archive call.
func WithRetry(policy RetryPolicy, op func() error) error {
	delay := policy.BaseDelay
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if brokererr.KindOf(err) == brokererr.KindFileToArchiveNotFound {
			return err
		}
		lastErr = err
		time.Sleep(delay)
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return brokererr.Wrap(brokererr.KindArchiverFailed, lastErr, "archive retries exhausted")
}
