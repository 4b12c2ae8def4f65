package protocol

import "math"

// Magic identifies every message of this protocol on the wire.
const Magic uint16 = 0x497E

// MessageType is the single type byte carried after the magic.
type MessageType byte

const (
	TypeRequest  MessageType = 1
	TypeResponse MessageType = 2
)

// Status tells the requester whether file data follows the response header.
type Status byte

const (
	StatusNotFound Status = 0 // missing, unreadable, bad name or too large to frame
	StatusOK       Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not-found"
	default:
		return "invalid"
	}
}

// Request: [2B magic][1B type][2B filename_length][filename]
const RequestHeaderSize = 5

// Response: [2B magic][1B type][1B status][4B data_length][payload]
const ResponseHeaderSize = 8

const (
	MinFilenameLen = 1
	MaxFilenameLen = 1024

	// MaxRequestSize is the most a holder ever needs to read for one request.
	MaxRequestSize = RequestHeaderSize + MaxFilenameLen

	// MaxPayloadSize is the largest payload data_length can describe.
	MaxPayloadSize = math.MaxUint32
)
