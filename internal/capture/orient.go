package capture

import (
	"bytes"

	"wstrace/internal/models"
)

var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("HEAD "),
	[]byte("DELETE "), []byte("OPTIONS "), []byte("PATCH "), []byte("TRACE "),
	[]byte("CONNECT "),
}

// Orienter decides, once per flow, which endpoint is the client.
type Orienter struct {
	clients map[models.FlowID]models.Endpoint
}

func NewOrienter() *Orienter {
	return &Orienter{clients: make(map[models.FlowID]models.Endpoint)}
}

// Orient fills in p.Flow and p.Direction.
func (o *Orienter) Orient(p *models.Packet) {
	p.Flow = models.NewFlowID(p.Src, p.Dst)
	client, ok := o.clients[p.Flow]
	if !ok {
		client = guessClient(p)
		o.clients[p.Flow] = client
	}
	if p.Src == client {
		p.Direction = models.ClientToServer
	} else {
		p.Direction = models.ServerToClient
	}
}

func guessClient(p *models.Packet) models.Endpoint {
	switch {
	case p.SYN:
		return p.Src
	case bytes.HasPrefix(p.Payload, []byte("HTTP/")):
		return p.Dst
	case looksLikeRequest(p.Payload):
		return p.Src
	case p.Src.Port < p.Dst.Port:
		return p.Dst
	default:
		return p.Src
	}
}

func looksLikeRequest(b []byte) bool {
	for _, m := range httpMethods {
		if bytes.HasPrefix(b, m) {
			return true
		}
	}
	return false
}
