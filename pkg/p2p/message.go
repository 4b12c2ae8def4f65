package p2p

import "github.com/Ankesh2004/go-fetch/pkg/protocol"

// RPC holds the one request a holder reads from a connection.
type RPC struct {
	From    string            // remote address of the requester
	Payload []byte            // raw bytes read off the wire, at most protocol.MaxRequestSize
	Request *protocol.Request // set only when Payload decoded cleanly
}
