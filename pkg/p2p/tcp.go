package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"
)

// ================== TCP Peer ==========================
type TCPPeer struct {
	net.Conn
	// isOutbound := true if we are the one who dialed the connection
	// isOutbound := false if we are the one who accepted the connection
	isOutbound bool
	id         uuid.UUID
}

func NewTCPPeer(isOutbound bool, conn net.Conn) *TCPPeer {
	return &TCPPeer{
		Conn:       conn,
		isOutbound: isOutbound,
		id:         uuid.New(),
	}
}

func (p *TCPPeer) ID() uuid.UUID    { return p.id }
func (p *TCPPeer) IsOutbound() bool { return p.isOutbound }

func (p *TCPPeer) Send(data []byte) error {
	n, err := p.Conn.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrom hands bulk copies to the underlying connection so io.Copy from
// an *os.File can use sendfile.
func (p *TCPPeer) ReadFrom(r io.Reader) (int64, error) {
	if rf, ok := p.Conn.(io.ReaderFrom); ok {
		return rf.ReadFrom(r)
	}
	return io.Copy(struct{ io.Writer }{p.Conn}, r)
}

// Dial opens an outgoing connection, giving up after timeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*TCPPeer, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTCPPeer(true, conn), nil
}

// ============ TCP Transport options (configurations required to create a transport) ============
type TCPTransportOptions struct {
	ListenAddr string
	// MaxConns caps connections served at once; further connections wait in
	// the accept backlog. Zero means no cap.
	MaxConns int
	// OnPeer runs in its own goroutine for every accepted connection. The
	// connection is closed when it returns.
	OnPeer func(Peer)
	// ShutdownGrace is how long Close lets in-flight connections finish
	// before closing them out from under their handlers. Zero waits forever.
	ShutdownGrace time.Duration
}

// ============= TCP Transport =================
type TCPTransport struct {
	TCPTransportOptions
	listener net.Listener

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

func NewTCPTransport(options TCPTransportOptions) *TCPTransport {
	return &TCPTransport{
		TCPTransportOptions: options,
		conns:               make(map[net.Conn]struct{}),
	}
}

func (t *TCPTransport) Addr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.ListenAddr
}

// Listen binds the listening socket with SO_REUSEADDR so a restarted holder
// can take its port back straight away.
func (t *TCPTransport) Listen() error {
	lc := net.ListenConfig{Control: setSocketReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", t.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", t.ListenAddr, err)
	}
	if t.MaxConns > 0 {
		ln = netutil.LimitListener(ln, t.MaxConns)
	}
	t.listener = ln
	return nil
}

// Serve accepts connections until Close is called. Each connection gets
// its own goroutine, so a slow requester never holds up the next one.
func (t *TCPTransport) Serve() error {
	if t.listener == nil {
		return errors.New("transport is not listening")
	}

	var backoff time.Duration
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.isClosed() {
				return nil
			}
			// keep the loop alive on transient failures such as EMFILE
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			log.Printf("[%s] accept error: %v; retrying in %v", t.Addr(), err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return nil
		}
		t.wg.Add(1)
		t.conns[conn] = struct{}{}
		t.mu.Unlock()
		go t.handleConnection(conn)
	}
}

func (t *TCPTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *TCPTransport) handleConnection(conn net.Conn) {
	defer t.wg.Done()
	peer := NewTCPPeer(false, conn)
	defer func() {
		t.mu.Lock()
		delete(t.conns, conn)
		t.mu.Unlock()
		peer.Close()
	}()

	if t.OnPeer != nil {
		t.OnPeer(peer)
	}
}

// Close stops accepting and waits for in-flight connections to finish.
// Connections still open after ShutdownGrace are closed, which fails
// whatever read or write their handler is blocked in.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	var err error
	if !t.closed {
		t.closed = true
		if t.listener != nil {
			err = t.listener.Close()
		}
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	if t.ShutdownGrace <= 0 {
		<-done
		return err
	}

	timer := time.NewTimer(t.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
		return err
	case <-timer.C:
	}

	t.mu.Lock()
	log.Printf("[%s] closing %d connections still open after %v", t.Addr(), len(t.conns), t.ShutdownGrace)
	for conn := range t.conns {
		conn.Close()
	}
	t.mu.Unlock()
	<-done
	return err
}
