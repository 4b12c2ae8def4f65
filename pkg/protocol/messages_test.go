package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	for _, name := range []string{
		"a",
		"report.txt",
		"données/été.csv",
		"日本語のファイル名",
		strings.Repeat("x", MaxFilenameLen),
		strings.Repeat("é", MaxFilenameLen/2), // 2 bytes per rune
	} {
		frame, err := EncodeRequest(name)
		if err != nil {
			t.Fatalf("encode %q: %v", name, err)
		}
		if len(frame) != RequestHeaderSize+len(name) {
			t.Fatalf("frame size = %d, want %d", len(frame), RequestHeaderSize+len(name))
		}
		req, err := DecodeRequest(frame)
		if err != nil {
			t.Fatalf("decode %q: %v", name, err)
		}
		if req.Filename != name {
			t.Fatalf("filename mismatch: got %q, want %q", req.Filename, name)
		}
	}
}

func TestRequestWireLayout(t *testing.T) {
	frame, err := EncodeRequest("report.txt")
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte{0x49, 0x7E, 0x01, 0x00, 0x0A}, "report.txt"...)
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = % x, want % x", frame, want)
	}
}

func TestEncodeRequestRejectsBadNames(t *testing.T) {
	for name, filename := range map[string]string{
		"empty":     "",
		"oversized": strings.Repeat("x", MaxFilenameLen+1),
		"multibyte": strings.Repeat("é", MaxFilenameLen/2) + "x",
		"not utf8":  "\xff\xfe",
	} {
		if _, err := EncodeRequest(filename); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("%s: got %v, want ErrInvalidFilename", name, err)
		}
	}
}

func rawRequest(magic uint16, typ byte, nameLen uint16, name []byte) []byte {
	buf := make([]byte, RequestHeaderSize, RequestHeaderSize+len(name))
	binary.BigEndian.PutUint16(buf[0:2], magic)
	buf[2] = typ
	binary.BigEndian.PutUint16(buf[3:5], nameLen)
	return append(buf, name...)
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrShortHeader},
		{"four bytes", []byte{0x49, 0x7E, 0x01, 0x00}, ErrShortHeader},
		{"bad magic", rawRequest(0x487E, 1, 4, []byte("file")), ErrBadMagic},
		// magic is checked before every other field
		{"bad magic and everything else", rawRequest(0x0000, 9, 0, nil), ErrBadMagic},
		{"bad type", rawRequest(Magic, 2, 4, []byte("file")), ErrBadType},
		{"zero length", rawRequest(Magic, 1, 0, nil), ErrBadFilenameLength},
		{"length over max", rawRequest(Magic, 1, MaxFilenameLen+1, nil), ErrBadFilenameLength},
		{"truncated", rawRequest(Magic, 1, 10, []byte("short")), ErrTruncated},
		{"trailing", rawRequest(Magic, 1, 4, []byte("file!")), ErrTrailingBytes},
		{"invalid utf8", rawRequest(Magic, 1, 2, []byte{0xff, 0xfe}), ErrInvalidFilename},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRequest(tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 17, 4096, 1 << 20} {
		payload := bytes.Repeat([]byte{0xAB}, size)
		frame, err := EncodeResponse(StatusOK, payload)
		if err != nil {
			t.Fatalf("encode %d bytes: %v", size, err)
		}
		if len(frame) != ResponseHeaderSize+size {
			t.Fatalf("frame size = %d, want %d", len(frame), ResponseHeaderSize+size)
		}
		resp, err := DecodeResponse(frame)
		if err != nil {
			t.Fatalf("decode %d bytes: %v", size, err)
		}
		if resp.Status != StatusOK {
			t.Fatalf("status = %v, want ok", resp.Status)
		}
		if !bytes.Equal(resp.Payload, payload) {
			t.Fatalf("payload mismatch for %d bytes", size)
		}
	}
}

func TestNotFoundResponse(t *testing.T) {
	frame, err := EncodeResponse(StatusNotFound, []byte("ignored"))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x49, 0x7E, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = % x, want % x", frame, want)
	}
	resp, err := DecodeResponse(frame)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusNotFound || len(resp.Payload) != 0 {
		t.Fatalf("got %+v, want empty not-found", resp)
	}
}

func TestResponseHeaderLimits(t *testing.T) {
	hdr, err := EncodeResponseHeader(StatusOK, MaxPayloadSize)
	if err != nil {
		t.Fatalf("max payload: %v", err)
	}
	decoded, err := DecodeResponseHeader(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.DataLength != MaxPayloadSize {
		t.Fatalf("data length = %d, want %d", decoded.DataLength, uint32(MaxPayloadSize))
	}

	if _, err := EncodeResponseHeader(StatusOK, MaxPayloadSize+1); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
	if _, err := EncodeResponseHeader(Status(7), 0); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("got %v, want ErrBadStatus", err)
	}
}

func rawResponse(magic uint16, typ, status byte, dataLen uint32, payload []byte) []byte {
	buf := make([]byte, ResponseHeaderSize, ResponseHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], magic)
	buf[2] = typ
	buf[3] = status
	binary.BigEndian.PutUint32(buf[4:8], dataLen)
	return append(buf, payload...)
}

func TestDecodeResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrShortHeader},
		{"seven bytes", []byte{0x49, 0x7E, 0x02, 0x01, 0x00, 0x00, 0x00}, ErrShortHeader},
		{"bad magic", rawResponse(0x1234, 2, 1, 0, nil), ErrBadMagic},
		{"bad magic and status", rawResponse(0x1234, 1, 9, 3, nil), ErrBadMagic},
		{"request type", rawResponse(Magic, 1, 1, 0, nil), ErrBadType},
		{"bad status", rawResponse(Magic, 2, 2, 0, nil), ErrBadStatus},
		{"short payload", rawResponse(Magic, 2, 1, 10, make([]byte, 8)), ErrLengthMismatch},
		{"long payload", rawResponse(Magic, 2, 1, 2, make([]byte, 3)), ErrLengthMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse(tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteRequest(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRequest(&buf, "ghost.txt"); err != nil {
		t.Fatal(err)
	}
	req, err := DecodeRequest(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if req.Filename != "ghost.txt" {
		t.Fatalf("filename = %q", req.Filename)
	}

	if err := WriteRequest(&buf, ""); !errors.Is(err, ErrInvalidFilename) {
		t.Fatalf("got %v, want ErrInvalidFilename", err)
	}
}
