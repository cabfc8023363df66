package capture

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"iter"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"wstrace/internal/models"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// NativeLoader reads pcap and pcapng files in-process.
type NativeLoader struct{}

func (NativeLoader) Load(ctx context.Context, path string) (iter.Seq2[models.Packet, error], error) {
	if err := CheckReadable(path); err != nil {
		return nil, err
	}

	return func(yield func(models.Packet, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(models.Packet{}, NewReadError(path, err))
			return
		}
		defer f.Close()

		r, err := openReader(bufio.NewReader(f))
		if err != nil {
			yield(models.Packet{}, NewReadError(path, err))
			return
		}

		orient := NewOrienter()
		var frame int64
		for ctx.Err() == nil {
			data, ci, err := r.ReadPacketData()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(models.Packet{}, NewReadError(path, errors.Wrapf(err, "frame %d", frame+1)))
				return
			}
			frame++

			pkt := gopacket.NewPacket(data, r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
			p, ok := convertPacket(pkt)
			if !ok {
				continue
			}
			p.Index = frame
			p.Timestamp = ci.Timestamp
			orient.Orient(&p)
			if !yield(p, nil) {
				return
			}
		}
	}, nil
}

func openReader(br *bufio.Reader) (packetReader, error) {
	head, err := br.Peek(4)
	if err != nil {
		return nil, errors.Wrap(err, "read capture header")
	}
	if bytes.Equal(head, pcapngMagic) {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		return r, errors.Wrap(err, "pcapng header")
	}
	r, err := pcapgo.NewReader(br)
	return r, errors.Wrap(err, "pcap header")
}

// convertPacket keeps TCP segments over IPv4 or IPv6.
func convertPacket(pkt gopacket.Packet) (models.Packet, bool) {
	var p models.Packet

	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		p.Src.Addr = ip.SrcIP.String()
		p.Dst.Addr = ip.DstIP.String()
	case *layers.IPv6:
		p.Src.Addr = ip.SrcIP.String()
		p.Dst.Addr = ip.DstIP.String()
	default:
		return p, false
	}

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return p, false
	}
	tcp := tcpLayer.(*layers.TCP)

	p.Src.Port = int(tcp.SrcPort)
	p.Dst.Port = int(tcp.DstPort)
	p.Seq = tcp.Seq
	p.HasSeq = true
	p.SYN = tcp.SYN && !tcp.ACK
	if len(tcp.Payload) > 0 {
		p.Payload = append([]byte(nil), tcp.Payload...)
	}
	return p, true
}
