// Package brokererr defines the broker's error taxonomy.
//
// Every error that can reach a client is a *BrokerError carrying a Kind from
// the fixed taxonomy in spec §7. The wrapped cause (file paths, driver
// errors, stack context) stays on the server for logs and is never
// serialized to the wire — see BrokerError.Error vs BrokerError.ClientMessage.
package brokererr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the wire-visible error taxonomy. Values are stable across
// releases because they are serialized as the response status code.
type Kind uint32

const (
	KindNone Kind = iota
	KindInvalidCommand
	KindInvalidStreamID
	KindInvalidTopicID
	KindInvalidPartitionID
	KindInvalidPartitionsCount
	KindInvalidOffset
	KindResourceNotFound
	KindResourceAlreadyExists
	KindUnauthorized
	KindNotAuthenticated
	KindSegmentFull
	KindSegmentClosed
	KindMalformedFrame
	KindIoError
	KindCorruptState
	KindInvalidConfiguration
	KindCacheOversubscribed
	KindArchiverFailed
	KindFileToArchiveNotFound
)

var kindMessages = map[Kind]string{
	KindNone:                   "ok",
	KindInvalidCommand:         "invalid command",
	KindInvalidStreamID:        "invalid stream id",
	KindInvalidTopicID:         "invalid topic id",
	KindInvalidPartitionID:     "invalid partition id",
	KindInvalidPartitionsCount: "invalid partitions count",
	KindInvalidOffset:          "invalid offset",
	KindResourceNotFound:       "resource not found",
	KindResourceAlreadyExists:  "resource already exists",
	KindUnauthorized:           "unauthorized",
	KindNotAuthenticated:       "not authenticated",
	KindSegmentFull:            "segment full",
	KindSegmentClosed:          "segment closed",
	KindMalformedFrame:         "malformed frame",
	KindIoError:                "io error",
	KindCorruptState:           "corrupt state",
	KindInvalidConfiguration:   "invalid configuration",
	KindCacheOversubscribed:    "cache oversubscribed",
	KindArchiverFailed:         "archiver failed",
	KindFileToArchiveNotFound:  "file to archive not found",
}

// String returns the short, user-facing message for the kind. This is the
// only text that is allowed to cross the wire for an error response.
func (k Kind) String() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return "unknown error"
}

// BrokerError is the concrete error type returned by every broker operation
// that can fail in a client-visible way.
type BrokerError struct {
	Kind  Kind
	cause error
}

func (e *BrokerError) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.cause.Error())
}

// ClientMessage is what is allowed to cross the wire: the kind's short
// message only, no stack, no file paths, no internal identifiers.
func (e *BrokerError) ClientMessage() string {
	return e.Kind.String()
}

func (e *BrokerError) Unwrap() error { return e.cause }

// New constructs a BrokerError of the given kind with no wrapped cause.
func New(kind Kind) *BrokerError {
	return &BrokerError{Kind: kind}
}

// Wrap constructs a BrokerError of the given kind, wrapping cause for
// server-side logging. If cause is nil, Wrap returns nil.
func Wrap(kind Kind, cause error, msg string) *BrokerError {
	if cause == nil {
		return nil
	}
	return &BrokerError{Kind: kind, cause: errors.Wrap(cause, msg)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *BrokerError {
	if cause == nil {
		return nil
	}
	return &BrokerError{Kind: kind, cause: errors.Wrapf(cause, format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindIoError for errors
// that did not originate as a *BrokerError (e.g. a raw os.PathError that
// escaped a storage call without being classified).
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindIoError
}

// Is reports whether err is a *BrokerError of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
