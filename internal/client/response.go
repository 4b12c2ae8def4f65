package client

import (
	"fmt"

	"github.com/Ankesh2004/go-fetch/internal/storage"
	"github.com/Ankesh2004/go-fetch/pkg/protocol"
)

// responseReader consumes the response as it arrives in arbitrary chunks.
// The 8-byte header is validated as soon as it is complete; payload bytes
// then go straight to a staged file so large files are never held in
// memory. The staged file only becomes visible on commit.
type responseReader struct {
	store    *storage.Store
	name     string
	header   []byte
	hdr      *protocol.ResponseHeader
	staged   *storage.Staged
	received int64
	err      error
}

func newResponseReader(store *storage.Store, name string) *responseReader {
	return &responseReader{
		store:  store,
		name:   name,
		header: make([]byte, 0, protocol.ResponseHeaderSize),
	}
}

func (rr *responseReader) write(p []byte) error {
	rr.received += int64(len(p))
	if rr.err != nil {
		return rr.err
	}

	if rr.hdr == nil {
		need := protocol.ResponseHeaderSize - len(rr.header)
		if len(p) < need {
			rr.header = append(rr.header, p...)
			return nil
		}
		rr.header = append(rr.header, p[:need]...)
		p = p[need:]

		hdr, err := protocol.DecodeResponseHeader(rr.header)
		if err != nil {
			return rr.fail(fmt.Errorf("invalid response: %w", err))
		}
		rr.hdr = &hdr
		if hdr.Status == protocol.StatusNotFound {
			return rr.fail(fmt.Errorf("%w: %s", ErrFileNotFound, rr.name))
		}

		staged, err := rr.store.Stage(rr.name)
		if err != nil {
			return rr.fail(fmt.Errorf("could not create local file: %w", err))
		}
		rr.staged = staged
	}

	if len(p) == 0 {
		return nil
	}
	if rr.staged.Len()+int64(len(p)) > int64(rr.hdr.DataLength) {
		return rr.fail(fmt.Errorf("invalid response: %w: declared %d, received more",
			protocol.ErrLengthMismatch, rr.hdr.DataLength))
	}
	if _, err := rr.staged.Write(p); err != nil {
		return rr.fail(fmt.Errorf("could not write local file: %w", err))
	}
	return nil
}

func (rr *responseReader) fail(err error) error {
	rr.err = err
	rr.abort()
	return err
}

// commit runs once the holder has closed the connection.
func (rr *responseReader) commit() (storage.Written, error) {
	if rr.err != nil {
		return storage.Written{}, rr.err
	}
	if rr.hdr == nil {
		if rr.received == 0 {
			return storage.Written{}, fmt.Errorf("%w: server closed the connection without a response", ErrConnect)
		}
		_, err := protocol.DecodeResponseHeader(rr.header)
		return storage.Written{}, rr.fail(fmt.Errorf("invalid response: %w", err))
	}
	if got := rr.staged.Len(); got != int64(rr.hdr.DataLength) {
		return storage.Written{}, rr.fail(fmt.Errorf("invalid response: %w: declared %d, received %d",
			protocol.ErrLengthMismatch, rr.hdr.DataLength, got))
	}

	w, err := rr.staged.Commit()
	if err != nil {
		return storage.Written{}, rr.fail(fmt.Errorf("could not write local file: %w", err))
	}
	return w, nil
}

func (rr *responseReader) abort() {
	if rr.staged != nil {
		rr.staged.Abort()
	}
}
