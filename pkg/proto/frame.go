package proto

import (
	"encoding/binary"
	"io"
)

// CommandCode identifies a request's handler on the wire.
type CommandCode uint32

// Non-exhaustive command taxonomy (spec §4.6, §4.9).
const (
	CmdPing CommandCode = iota + 1
	CmdLogin
	CmdLoginWithToken
	CmdLogout

	CmdCreateStream
	CmdDeleteStream
	CmdCreateTopic
	CmdDeleteTopic
	CmdCreatePartitions
	CmdDeletePartitions

	CmdSendMessages
	CmdPollMessages
	CmdFlushUnsavedBuffer

	CmdStoreConsumerOffset
	CmdGetConsumerOffset

	CmdCreateUser
	CmdUpdateUser
	CmdDeleteUser
	CmdChangePassword
	CmdCreatePersonalAccessToken
	CmdDeletePersonalAccessToken

	CmdGetStream
	CmdGetStreams
	CmdGetTopic
	CmdGetTopics
)

// RequestHeader is the fixed prefix of every request frame: a total length
// (covering command_code + payload) followed by the command code.
//
//	length         u32
//	command_code   u32
//	payload        bytes[length-4]
type RequestHeader struct {
	Length      uint32
	CommandCode CommandCode
}

const requestHeaderWireSize = 4 // just command_code; length is the frame prefix, read separately

// ReadRequest reads one length-prefixed request frame from r.
func ReadRequest(r io.Reader) (CommandCode, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length < requestHeaderWireSize {
		return 0, nil, ErrMalformedFrame
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	code := CommandCode(binary.LittleEndian.Uint32(body[0:4]))
	return code, body[4:], nil
}

// WriteRequest writes a length-prefixed request frame to w.
func WriteRequest(w io.Writer, code CommandCode, payload []byte) error {
	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(4+len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(code))
	copy(buf[8:], payload)
	_, err := w.Write(buf)
	return err
}

// Status is the numeric response status. Zero means success; nonzero maps
// to the error taxonomy of spec §7 (see brokererr.Kind, which Status
// mirrors 1:1 by construction).
type Status uint32

const StatusOK Status = 0

// WriteResponse writes a length-prefixed response frame:
//
//	status   u32
//	length   u32
//	payload  bytes[length]
func WriteResponse(w io.Writer, status Status, payload []byte) error {
	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(status))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadResponse reads one length-prefixed response frame from r.
func ReadResponse(r io.Reader) (Status, []byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	status := Status(binary.LittleEndian.Uint32(hdr[0:4]))
	length := binary.LittleEndian.Uint32(hdr[4:8])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return status, payload, nil
}
