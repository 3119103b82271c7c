package client

import "github.com/streamhouse/broker/pkg/proto"

// PollSpec builds a poll request the way Offset in the original client
// library builds a fetch starting point: a small immutable value with
// chained constructors, rather than a bag of optional fields (grounded on
// pkg/kgo/consumer.go's Offset type).
type PollSpec struct {
	strategy proto.PollStrategyKind
	value    uint64
	count    uint32
	consumer proto.Consumer
	autoCommit bool
}

// AtOffset polls starting at an explicit absolute offset.
func AtOffset(offset uint64) PollSpec {
	return PollSpec{strategy: proto.PollOffset, value: offset}
}

// AtStart polls from the first retained message in the partition.
func AtStart() PollSpec {
	return PollSpec{strategy: proto.PollFirst}
}

// AtEnd polls from the most recently appended message.
func AtEnd() PollSpec {
	return PollSpec{strategy: proto.PollLast}
}

// AtTimestamp polls from the first message at or after tsUs.
func AtTimestamp(tsUs uint64) PollSpec {
	return PollSpec{strategy: proto.PollTimestamp, value: tsUs}
}

// Next continues an individually-tracked consumer's committed offset
// forward.
func Next(consumerID uint32) PollSpec {
	return PollSpec{strategy: proto.PollNext, consumer: proto.Consumer{Kind: proto.ConsumerKindIndividual, ID: consumerID}}
}

// WithCount bounds how many messages a single poll returns.
func (p PollSpec) WithCount(count uint32) PollSpec {
	p.count = count
	return p
}

// WithAutoCommit stores the post-read offset back as the named consumer's
// committed offset after a successful poll.
func (p PollSpec) WithAutoCommit() PollSpec {
	p.autoCommit = true
	return p
}
