package capture

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wstrace/internal/models"
)

func TestOrienterGuesses(t *testing.T) {
	hi := models.Endpoint{Addr: "10.0.0.5", Port: 51000}
	lo := models.Endpoint{Addr: "10.0.0.1", Port: 8080}

	tests := []struct {
		name    string
		pkt     models.Packet
		wantDir models.Direction
	}{
		{"syn sender is client", models.Packet{Src: lo, Dst: hi, SYN: true}, models.ClientToServer},
		{"status line sender is server", models.Packet{Src: hi, Dst: lo, Payload: []byte("HTTP/1.1 200 OK")}, models.ServerToClient},
		{"method sender is client", models.Packet{Src: lo, Dst: hi, Payload: []byte("POST / HTTP/1.1")}, models.ClientToServer},
		{"lower port is server", models.Packet{Src: lo, Dst: hi, Payload: []byte("\x00\x01")}, models.ServerToClient},
		{"higher port is client", models.Packet{Src: hi, Dst: lo, Payload: []byte("\x00\x01")}, models.ClientToServer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := NewOrienter()
			p := tc.pkt
			o.Orient(&p)
			assert.Equal(t, tc.wantDir, p.Direction)
			assert.Equal(t, models.NewFlowID(hi, lo), p.Flow)
		})
	}
}

func TestOrientationIsFixedPerFlow(t *testing.T) {
	a := models.Endpoint{Addr: "10.0.0.5", Port: 51000}
	b := models.Endpoint{Addr: "10.0.0.1", Port: 80}
	o := NewOrienter()

	first := models.Packet{Src: a, Dst: b, Payload: []byte("GET / HTTP/1.1")}
	o.Orient(&first)
	// A later payload that looks like a request from the server does not flip it.
	later := models.Packet{Src: b, Dst: a, Payload: []byte("GET /again HTTP/1.1")}
	o.Orient(&later)

	assert.Equal(t, models.ClientToServer, first.Direction)
	assert.Equal(t, models.ServerToClient, later.Direction)
}

func TestSliceLoader(t *testing.T) {
	l := &SliceLoader{Packets: []models.Packet{{Index: 1}, {Index: 2}}, Err: errors.New("cut short")}
	seq, err := l.Load(context.Background(), "fixture.pcap")
	require.NoError(t, err)

	pkts, err := collect(t, seq)
	assert.Len(t, pkts, 2)
	var rerr *ReadError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "fixture.pcap", rerr.Path)
}
