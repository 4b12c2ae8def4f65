package p2p

import (
	"net"

	"github.com/google/uuid"
)

// Peer := remote node
// Peer is one TCP connection, requester or holder side. Each connection
// carries exactly one transfer, so the ID names both.
type Peer interface {
	net.Conn // COMPOSITION : holds the *net.TCPConn
	ID() uuid.UUID
	Send([]byte) error
	IsOutbound() bool
}

// Transport is the holder's listening side.
type Transport interface {
	Addr() string
	Listen() error
	Serve() error
	Close() error
}
