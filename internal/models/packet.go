package models

import (
	"net"
	"strconv"
	"time"
)

// Direction tells which side of a TCP conversation sent a payload.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	if d == ServerToClient {
		return "server->client"
	}
	return "client->server"
}

// Side is the short label used in artifact names and log fields.
func (d Direction) Side() string {
	if d == ServerToClient {
		return "resp"
	}
	return "req"
}

// Endpoint is one side of a TCP conversation.
type Endpoint struct {
	Addr string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Addr, strconv.Itoa(e.Port))
}

func (e Endpoint) less(o Endpoint) bool {
	if e.Addr != o.Addr {
		return e.Addr < o.Addr
	}
	return e.Port < o.Port
}

// FlowID identifies a conversation independently of packet direction.
// A is always the lexicographically smaller endpoint.
type FlowID struct {
	A Endpoint
	B Endpoint
}

// NewFlowID normalizes an endpoint pair.
func NewFlowID(x, y Endpoint) FlowID {
	if y.less(x) {
		x, y = y, x
	}
	return FlowID{A: x, B: y}
}

func (f FlowID) String() string {
	return f.A.String() + " <-> " + f.B.String()
}

// Packet holds what the pipeline needs from one captured TCP segment.
type Packet struct {
	// Index is the capture-relative ordering index (frame number).
	Index     int64
	Timestamp time.Time

	Flow      FlowID
	Src       Endpoint
	Dst       Endpoint
	Direction Direction

	// Seq is only meaningful when HasSeq is set.
	Seq    uint32
	HasSeq bool
	SYN    bool // SYN without ACK

	Payload []byte
}
