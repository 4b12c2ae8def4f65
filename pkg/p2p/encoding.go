package p2p

import (
	"errors"
	"io"

	"github.com/Ankesh2004/go-fetch/pkg/protocol"
)

type Decoder interface {
	Decode(io.Reader, *RPC) error
}

// FrameDecoder reads a single request frame. TCP may split the request
// across any number of reads, so it keeps reading until the bytes seen so
// far either form a whole request or can never become one. It never reads
// more than protocol.MaxRequestSize bytes.
type FrameDecoder struct{}

func (d FrameDecoder) Decode(r io.Reader, rpc *RPC) error {
	buf := make([]byte, protocol.MaxRequestSize)
	n := 0
	var decodeErr error

	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if m > 0 {
			req, derr := protocol.DecodeRequest(buf[:n])
			if derr == nil {
				rpc.Payload = buf[:n]
				rpc.Request = req
				return nil
			}
			decodeErr = derr
			if !needMore(derr) {
				rpc.Payload = buf[:n]
				return derr
			}
		}
		if err != nil {
			rpc.Payload = buf[:n]
			// peer closed half way through a frame: report what is wrong with it
			if errors.Is(err, io.EOF) && n > 0 {
				return decodeErr
			}
			return err
		}
	}

	rpc.Payload = buf[:n]
	return decodeErr
}

// needMore reports whether a decode failure could be cured by more bytes.
func needMore(err error) bool {
	return errors.Is(err, protocol.ErrShortHeader) || errors.Is(err, protocol.ErrTruncated)
}
