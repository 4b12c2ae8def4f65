package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	ErrInvalidFilename   = errors.New("filename must be 1-1024 bytes of UTF-8")
	ErrShortHeader       = errors.New("message shorter than its fixed header")
	ErrBadMagic          = errors.New("magic number does not match 0x497E")
	ErrBadType           = errors.New("unexpected message type")
	ErrBadFilenameLength = errors.New("filename length out of range 1-1024")
	ErrTruncated         = errors.New("message shorter than its declared length")
	ErrTrailingBytes     = errors.New("message longer than its declared length")
	ErrPayloadTooLarge   = errors.New("payload does not fit in the 4-byte length field")
	ErrBadStatus         = errors.New("status must be 0 or 1")
	ErrLengthMismatch    = errors.New("payload length does not match data_length")
)

// Request asks the holder for one file.
type Request struct {
	Filename string
}

// Response is the holder's single answer on a connection.
type Response struct {
	Status  Status
	Payload []byte
}

// ResponseHeader is the fixed 8-byte prefix of a Response. It is decoded on
// its own when the payload is streamed rather than buffered.
type ResponseHeader struct {
	Status     Status
	DataLength uint32
}

// --- Request ---

// EncodeRequest builds the full request frame for filename.
func EncodeRequest(filename string) ([]byte, error) {
	name := []byte(filename)
	if len(name) < MinFilenameLen || len(name) > MaxFilenameLen || !utf8.Valid(name) {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidFilename, len(name))
	}

	buf := make([]byte, RequestHeaderSize+len(name))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = byte(TypeRequest)
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(name)))
	copy(buf[RequestHeaderSize:], name)
	return buf, nil
}

// DecodeRequest validates b as exactly one request frame. Fields are checked
// in wire order, so a bad magic is reported before anything else.
func DecodeRequest(b []byte) (*Request, error) {
	if len(b) < RequestHeaderSize {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrShortHeader, len(b), RequestHeaderSize)
	}
	if magic := binary.BigEndian.Uint16(b[0:2]); magic != Magic {
		return nil, fmt.Errorf("%w: got 0x%04x", ErrBadMagic, magic)
	}
	if t := MessageType(b[2]); t != TypeRequest {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadType, t, TypeRequest)
	}

	nameLen := int(binary.BigEndian.Uint16(b[3:5]))
	if nameLen < MinFilenameLen || nameLen > MaxFilenameLen {
		return nil, fmt.Errorf("%w: %d", ErrBadFilenameLength, nameLen)
	}

	total := RequestHeaderSize + nameLen
	switch {
	case len(b) < total:
		return nil, fmt.Errorf("%w: have %d of %d bytes", ErrTruncated, len(b), total)
	case len(b) > total:
		return nil, fmt.Errorf("%w: %d extra bytes", ErrTrailingBytes, len(b)-total)
	}

	name := b[RequestHeaderSize:total]
	if !utf8.Valid(name) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidFilename)
	}
	return &Request{Filename: string(name)}, nil
}

// WriteRequest encodes a request and writes it to w in one call.
func WriteRequest(w io.Writer, filename string) error {
	frame, err := EncodeRequest(filename)
	if err != nil {
		return err
	}
	n, err := w.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

// --- Response ---

// EncodeResponseHeader builds the 8-byte response header for a payload of
// dataLen bytes. A NotFound header always declares zero bytes.
func EncodeResponseHeader(status Status, dataLen int64) ([]byte, error) {
	if status != StatusOK && status != StatusNotFound {
		return nil, fmt.Errorf("%w: got %d", ErrBadStatus, status)
	}
	if status == StatusNotFound {
		dataLen = 0
	}
	if dataLen < 0 || dataLen > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, dataLen)
	}

	var hdr [ResponseHeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], Magic)
	hdr[2] = byte(TypeResponse)
	hdr[3] = byte(status)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(dataLen))
	return hdr[:], nil
}

// EncodeResponse builds a complete response frame. The payload is ignored
// for StatusNotFound. On ErrPayloadTooLarge the caller is expected to send
// a NotFound response instead of a partial file.
func EncodeResponse(status Status, payload []byte) ([]byte, error) {
	if status == StatusNotFound {
		payload = nil
	}
	hdr, err := EncodeResponseHeader(status, int64(len(payload)))
	if err != nil {
		return nil, err
	}
	return append(hdr, payload...), nil
}

// DecodeResponseHeader validates the fixed prefix of a response. Bytes
// past the header are not inspected.
func DecodeResponseHeader(b []byte) (ResponseHeader, error) {
	if len(b) < ResponseHeaderSize {
		return ResponseHeader{}, fmt.Errorf("%w: %d of %d bytes", ErrShortHeader, len(b), ResponseHeaderSize)
	}
	if magic := binary.BigEndian.Uint16(b[0:2]); magic != Magic {
		return ResponseHeader{}, fmt.Errorf("%w: got 0x%04x", ErrBadMagic, magic)
	}
	if t := MessageType(b[2]); t != TypeResponse {
		return ResponseHeader{}, fmt.Errorf("%w: got %d, want %d", ErrBadType, t, TypeResponse)
	}
	status := Status(b[3])
	if status != StatusOK && status != StatusNotFound {
		return ResponseHeader{}, fmt.Errorf("%w: got %d", ErrBadStatus, status)
	}
	return ResponseHeader{
		Status:     status,
		DataLength: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// DecodeResponse validates b as one complete response. For StatusOK the
// bytes after the header must be exactly data_length long.
func DecodeResponse(b []byte) (*Response, error) {
	hdr, err := DecodeResponseHeader(b)
	if err != nil {
		return nil, err
	}
	if hdr.Status == StatusNotFound {
		return &Response{Status: StatusNotFound}, nil
	}

	payload := b[ResponseHeaderSize:]
	if uint64(len(payload)) != uint64(hdr.DataLength) {
		return nil, fmt.Errorf("%w: declared %d, received %d", ErrLengthMismatch, hdr.DataLength, len(payload))
	}
	return &Response{Status: StatusOK, Payload: payload}, nil
}
