package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/Ankesh2004/go-fetch/internal/storage"
	"github.com/Ankesh2004/go-fetch/pkg/p2p"
	"github.com/Ankesh2004/go-fetch/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRequestTimeout = 1 * time.Second
	DefaultMaxConns       = 64
	DefaultShutdownGrace  = 5 * time.Second

	// payload bytes handed to the connection per write deadline
	sendChunk = 256 << 10

	// layout of the per-connection "Connected to client" line
	connectedTimeLayout = "Mon, 02 Jan 2006 15:04:05"
)

type FileServerOptions struct {
	ListenAddr string
	RootDir    string // files are served relative to this directory
	// RequestTimeout bounds how long a connection may take to deliver its
	// request before it is dropped without a response.
	RequestTimeout time.Duration
	// WriteTimeout bounds each write of the response; a requester that
	// stops reading for longer loses its transfer. Defaults to RequestTimeout.
	WriteTimeout  time.Duration
	MaxConns      int
	ShutdownGrace time.Duration
	Decoder       p2p.Decoder
}

// FileServer is the holder: it answers exactly one request per accepted
// connection and then closes it.
type FileServer struct {
	FileServerOptions

	Store       *storage.Store
	Transport   p2p.Transport
	quitChannel chan struct{}
}

func NewFileServer(options FileServerOptions) *FileServer {
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = DefaultRequestTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = options.RequestTimeout
	}
	if options.ShutdownGrace <= 0 {
		options.ShutdownGrace = DefaultShutdownGrace
	}
	if options.MaxConns == 0 {
		options.MaxConns = DefaultMaxConns
	}
	if options.Decoder == nil {
		options.Decoder = p2p.FrameDecoder{}
	}

	s := &FileServer{
		FileServerOptions: options,
		Store:             storage.NewStore(options.RootDir),
		quitChannel:       make(chan struct{}),
	}
	s.Transport = p2p.NewTCPTransport(p2p.TCPTransportOptions{
		ListenAddr:    options.ListenAddr,
		MaxConns:      options.MaxConns,
		ShutdownGrace: options.ShutdownGrace,
		OnPeer:        s.OnPeer,
	})
	return s
}

// -------- Lifecycle --------

func (s *FileServer) Addr() string {
	return s.Transport.Addr()
}

// Listen binds the listening socket. Split from Serve so callers learn the
// bound address (and any bind error) before transfers start.
func (s *FileServer) Listen() error {
	if err := s.Transport.Listen(); err != nil {
		return err
	}
	log.Printf("[%s] Listening, serving files from %s", s.Addr(), s.Store.RootDir)
	return nil
}

// Serve runs the accept loop until ctx is cancelled or Stop is called, then
// waits up to ShutdownGrace for in-flight transfers to finish.
func (s *FileServer) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Transport.Serve()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.quitChannel:
		}
		return s.Transport.Close()
	})

	err := g.Wait()
	log.Printf("[%s] FileServer stopped", s.Addr())
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Start is Listen followed by Serve.
func (s *FileServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *FileServer) Stop() error {
	select {
	case <-s.quitChannel:
		return nil
	default:
		close(s.quitChannel)
	}
	return nil
}

// -------- Per-connection handling --------

// OnPeer runs one connection through Accepted -> AwaitingRequest ->
// Validated -> ResponseSent. Malformed or missing requests are dropped
// without a response; the transport closes the connection on return.
func (s *FileServer) OnPeer(peer p2p.Peer) {
	tag := fmt.Sprintf("[%s] [%s]", s.Addr(), peer.ID().String()[:8])
	from := peer.RemoteAddr().String()
	log.Printf("%s Connected to client at %s at %s", tag, from, time.Now().Format(connectedTimeLayout))

	peer.SetReadDeadline(time.Now().Add(s.RequestTimeout))
	rpc := p2p.RPC{From: from}
	err := s.Decoder.Decode(peer, &rpc)
	peer.SetReadDeadline(time.Time{})
	if err != nil {
		var nerr net.Error
		switch {
		case errors.As(err, &nerr) && nerr.Timeout():
			log.Printf("%s ERROR: Connection timed out, CONNECTION CLOSED", tag)
		case errors.Is(err, io.EOF):
			log.Printf("%s ERROR: Client closed connection without a request", tag)
		default:
			log.Printf("%s ERROR: Invalid request (%v), CONNECTION CLOSED", tag, err)
		}
		return
	}

	sent, err := s.respond(tag, peer, rpc.Request.Filename)
	if err != nil {
		log.Printf("%s ERROR: Transfer aborted after %d bytes: %v", tag, sent, err)
		return
	}
	log.Printf("%s %d bytes sent to %s", tag, sent, from)
}

// respond writes the response for name and reports how many bytes went
// out. Anything that keeps the file from being framed whole is answered
// with status 0 rather than a partial payload.
func (s *FileServer) respond(tag string, peer p2p.Peer, name string) (int64, error) {
	size, r, err := s.Store.ReadStream(name)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Printf("%s ERROR: %s does not exist on server", tag, name)
		default:
			log.Printf("%s ERROR: %s is not readable: %v", tag, name, err)
		}
		return s.sendNotFound(peer)
	}
	defer r.Close()

	hdr, err := protocol.EncodeResponseHeader(protocol.StatusOK, size)
	if errors.Is(err, protocol.ErrPayloadTooLarge) {
		log.Printf("%s ERROR: Filesize must be <= 4GB, %s (%d bytes) not transferred", tag, name, size)
		return s.sendNotFound(peer)
	}
	if err != nil {
		return 0, err
	}

	peer.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	if err := peer.Send(hdr); err != nil {
		return 0, err
	}
	n, err := s.sendPayload(peer, r, size)
	sent := int64(len(hdr)) + n
	if errors.Is(err, io.EOF) {
		return sent, fmt.Errorf("%s shrank while sending: %d of %d bytes", name, n, size)
	}
	return sent, err
}

// sendPayload copies size bytes from r in sendChunk pieces, pushing the
// write deadline out before each one. Each piece still goes through
// peer.ReadFrom, so an *os.File source keeps using sendfile.
func (s *FileServer) sendPayload(peer p2p.Peer, r io.Reader, size int64) (int64, error) {
	var sent int64
	for sent < size {
		peer.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
		n, err := io.CopyN(peer, r, min(sendChunk, size-sent))
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func (s *FileServer) sendNotFound(peer p2p.Peer) (int64, error) {
	peer.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	frame, err := protocol.EncodeResponse(protocol.StatusNotFound, nil)
	if err != nil {
		return 0, err
	}
	if err := peer.Send(frame); err != nil {
		return 0, err
	}
	return int64(len(frame)), nil
}
