// Package client is a Go client library for the broker's binary protocol
// (C9). It is adapted from the request-pipelining shape of
// pkg/kgo/broker.go: a single background goroutine owns the connection,
// callers enqueue a request/promise pair on a channel instead of writing
// to the socket directly, and the goroutine resolves each promise as the
// matching response arrives. The broker's wire protocol has no
// correlation ID (spec §4.9 Dispatch processes one request at a time per
// connection), so unlike the original this client only ever has one
// request in flight — the queue exists to let multiple goroutines share
// one connection safely, not to pipeline.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/streamhouse/broker/pkg/proto"
)

// ErrClientClosed is returned to any promise still queued when the
// client is closed.
var ErrClientClosed = errors.New("client: closed")

type promisedReq struct {
	ctx     context.Context
	code    proto.CommandCode
	payload []byte
	promise func(proto.Status, []byte, error)
}

// Client is a connection to one broker address, safe for concurrent use.
type Client struct {
	addr string

	mu     sync.Mutex
	closed bool
	reqs   chan promisedReq

	dialTimeout time.Duration
}

// Options configures a Client.
type Options struct {
	DialTimeout time.Duration
}

// Dial connects to addr and starts the client's request loop.
func Dial(addr string, opts Options) (*Client, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	c := &Client{
		addr:        addr,
		reqs:        make(chan promisedReq, 16),
		dialTimeout: opts.DialTimeout,
	}
	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return nil, err
	}
	go c.handleReqs(conn)
	return c, nil
}

// handleReqs owns the connection: it is the only goroutine that reads or
// writes conn, serializing concurrent callers' requests onto the wire one
// at a time (grounded on broker.go's handleReqs/handleResps split,
// collapsed into one loop since our protocol never has more than one
// request outstanding).
func (c *Client) handleReqs(conn net.Conn) {
	defer conn.Close()
	for pr := range c.reqs {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			pr.promise(0, nil, ErrClientClosed)
			continue
		}
		if err := proto.WriteRequest(conn, pr.code, pr.payload); err != nil {
			pr.promise(0, nil, err)
			continue
		}
		status, payload, err := proto.ReadResponse(conn)
		pr.promise(status, payload, err)
	}
}

// do enqueues req and blocks until its response arrives.
func (c *Client) do(ctx context.Context, code proto.CommandCode, payload []byte) (proto.Status, []byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, nil, ErrClientClosed
	}
	c.mu.Unlock()

	type result struct {
		status  proto.Status
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	c.reqs <- promisedReq{
		ctx:     ctx,
		code:    code,
		payload: payload,
		promise: func(status proto.Status, payload []byte, err error) {
			done <- result{status, payload, err}
		},
	}

	select {
	case r := <-done:
		return r.status, r.payload, r.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Close stops the request loop. Any request still queued resolves with
// ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.reqs)
	c.mu.Unlock()
	return nil
}

// Login authenticates the connection as username/password, required
// before any command besides Ping/Login/LoginWithToken (spec §4.8).
func (c *Client) Login(ctx context.Context, username, password string) error {
	payload := encodeLogin(username, password)
	status, _, err := c.do(ctx, proto.CmdLogin, payload)
	return statusErr(status, err)
}

// CreateStream creates a stream with the given id (0 to auto-assign) and
// name.
func (c *Client) CreateStream(ctx context.Context, id uint32, name string) error {
	cmd := &proto.CreateStream{StreamID: id, Name: name}
	status, _, err := c.do(ctx, proto.CmdCreateStream, cmd.AsBytes())
	return statusErr(status, err)
}

// CreateTopic creates a topic within a stream.
func (c *Client) CreateTopic(ctx context.Context, streamID, topicID uint32, name string, partitionsCount uint32, replicationFactor uint8) error {
	cmd := &proto.CreateTopic{
		StreamID: streamID, TopicID: topicID, Name: name,
		PartitionsCount: partitionsCount, ReplicationFactor: replicationFactor,
	}
	status, _, err := c.do(ctx, proto.CmdCreateTopic, cmd.AsBytes())
	return statusErr(status, err)
}

// Send appends messages to a partition. It reports only success or
// failure; the assigned offsets are not returned.
func (c *Client) Send(ctx context.Context, streamID, topicID, partitionID uint32, payloads [][]byte) error {
	msgs := make([]proto.OutgoingMessage, len(payloads))
	for i, p := range payloads {
		msgs[i] = proto.OutgoingMessage{Payload: p}
	}
	cmd := &proto.SendMessages{StreamID: streamID, TopicID: topicID, PartitionID: partitionID, Messages: msgs}
	status, _, err := c.do(ctx, proto.CmdSendMessages, cmd.AsBytes())
	return statusErr(status, err)
}

// Poll reads messages from a partition per spec.
func (c *Client) Poll(ctx context.Context, streamID, topicID, partitionID uint32, spec PollSpec) ([]byte, error) {
	cmd := &proto.PollMessages{
		StreamID: streamID, TopicID: topicID, PartitionID: partitionID,
		Strategy: spec.strategy, Value: spec.value, Count: spec.count,
		Consumer: spec.consumer, AutoCommit: spec.autoCommit,
	}
	status, payload, err := c.do(ctx, proto.CmdPollMessages, cmd.AsBytes())
	if err := statusErr(status, err); err != nil {
		return nil, err
	}
	return payload, nil
}

// StoreConsumerOffset persists a consumer's progress.
func (c *Client) StoreConsumerOffset(ctx context.Context, streamID, topicID, partitionID uint32, consumerID uint32, offset uint64) error {
	cmd := &proto.StoreConsumerOffset{
		Consumer:    proto.Consumer{Kind: proto.ConsumerKindIndividual, ID: consumerID},
		StreamID:    streamID,
		TopicID:     topicID,
		PartitionID: partitionID,
		Offset:      offset,
	}
	status, _, err := c.do(ctx, proto.CmdStoreConsumerOffset, cmd.AsBytes())
	return statusErr(status, err)
}

func statusErr(status proto.Status, err error) error {
	if err != nil {
		return err
	}
	if status != proto.StatusOK {
		return &StatusError{Status: status}
	}
	return nil
}

// StatusError wraps a non-OK response status returned by the broker.
type StatusError struct {
	Status proto.Status
}

func (e *StatusError) Error() string {
	return "client: broker returned non-ok status"
}

// encodeLogin matches handlers.decodeLoginPayload's wire layout:
// username_len u32 | username | password_len u32 | password.
func encodeLogin(username, password string) []byte {
	buf := make([]byte, 0, 8+len(username)+len(password))
	buf = appendLenPrefixed(buf, username)
	buf = appendLenPrefixed(buf, password)
	return buf
}

func appendLenPrefixed(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}
