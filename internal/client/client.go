package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/Ankesh2004/go-fetch/internal/storage"
	"github.com/Ankesh2004/go-fetch/pkg/p2p"
	"github.com/Ankesh2004/go-fetch/pkg/protocol"
)

var (
	ErrConnect        = errors.New("could not connect to server")
	ErrSend           = errors.New("could not send file request")
	ErrReceiveTimeout = errors.New("connection timed out")
	ErrFileNotFound   = errors.New("file does not exist on server")
	ErrFileExists     = errors.New("file already exists locally")
)

const (
	DefaultConnectTimeout = 1 * time.Second
	DefaultReceiveTimeout = 1 * time.Second
	DefaultChunkSize      = 4096
)

// State is where a Fetch is in its single request/response exchange.
type State int

const (
	StateConnecting State = iota
	StateRequestSent
	StateReceivingResponse
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRequestSent:
		return "request-sent"
	case StateReceivingResponse:
		return "receiving-response"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type ClientOptions struct {
	Addr      string // host:port of the holder
	OutputDir string // fetched files are written here, default "."
	// ConnectTimeout bounds the TCP handshake.
	ConnectTimeout time.Duration
	// ReceiveTimeout bounds each read while waiting for the response.
	ReceiveTimeout time.Duration
	ChunkSize      int
	// OnState, if set, sees every state the fetch enters.
	OnState func(State)
}

// Client is the requester. Each Fetch opens its own connection and
// transfers exactly one file.
type Client struct {
	ClientOptions
	Store *storage.Store
}

func NewClient(options ClientOptions) *Client {
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = DefaultConnectTimeout
	}
	if options.ReceiveTimeout <= 0 {
		options.ReceiveTimeout = DefaultReceiveTimeout
	}
	if options.ChunkSize <= 0 {
		options.ChunkSize = DefaultChunkSize
	}
	return &Client{
		ClientOptions: options,
		Store:         storage.NewStore(options.OutputDir),
	}
}

// Result describes a completed fetch.
type Result struct {
	Filename string
	Received int64 // bytes read off the wire, header included
	File     storage.Written
}

func (c *Client) enter(s State) {
	if c.OnState != nil {
		c.OnState(s)
	}
}

// Check applies the local pre-transfer rules to filename: it must be
// sendable and must not already exist in the output directory.
func (c *Client) Check(filename string) error {
	if _, err := protocol.EncodeRequest(filename); err != nil {
		return err
	}
	if _, err := c.Store.FullPath(filename); err != nil {
		return err
	}
	if c.Store.Has(filename) {
		return fmt.Errorf("%w: %s", ErrFileExists, filename)
	}
	return nil
}

// Fetch requests filename from the holder and writes it to the output
// directory. On any error no local file is created or modified.
func (c *Client) Fetch(ctx context.Context, filename string) (*Result, error) {
	res, err := c.fetch(ctx, filename)
	if err != nil {
		c.enter(StateFailed)
		return nil, err
	}
	c.enter(StateDone)
	return res, nil
}

func (c *Client) fetch(ctx context.Context, filename string) (*Result, error) {
	if err := c.Check(filename); err != nil {
		return nil, err
	}
	frame, err := protocol.EncodeRequest(filename)
	if err != nil {
		return nil, err
	}

	c.enter(StateConnecting)
	peer, err := p2p.Dial(ctx, c.Addr, c.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %v", ErrConnect, c.Addr, err)
	}
	defer peer.Close()
	stop := context.AfterFunc(ctx, func() { peer.Close() })
	defer stop()
	log.Printf("[%s] CONNECTED TO SERVER ON PORT %s", c.Addr, port(peer.RemoteAddr()))

	c.enter(StateRequestSent)
	if err := peer.Send(frame); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrSend, err)
	}

	c.enter(StateReceivingResponse)
	rr := newResponseReader(c.Store, filename)
	defer rr.abort()

	buf := make([]byte, c.ChunkSize)
	for {
		peer.SetReadDeadline(time.Now().Add(c.ReceiveTimeout))
		n, err := peer.Read(buf)
		if n > 0 {
			if werr := rr.write(buf[:n]); werr != nil {
				return nil, werr
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, fmt.Errorf("%w after %d bytes", ErrReceiveTimeout, rr.received)
		}
		return nil, fmt.Errorf("%w: connection lost after %d bytes: %v", ErrConnect, rr.received, err)
	}

	written, err := rr.commit()
	if err != nil {
		return nil, err
	}
	log.Printf("[%s] %d bytes received. Written to file '%s' (blake2b-256 %s)",
		c.Addr, rr.received, filename, written.Digest)
	return &Result{
		Filename: filename,
		Received: rr.received,
		File:     written,
	}, nil
}

func port(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return fmt.Sprint(tcp.Port)
	}
	_, p, _ := net.SplitHostPort(addr.String())
	return p
}
