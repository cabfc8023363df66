package tshark

import (
	"encoding/json"
	"strings"
)

// EkPacket represents the top-level structure of a Tshark -T ek output line.
type EkPacket struct {
	Timestamp string   `json:"timestamp"`
	Layers    EkLayers `json:"layers"`
}

// EkLayers holds the fields requested with -e.
// When using -e flags with -T ek, tshark flattens the structure and replaces dots with underscores.
type EkLayers struct {
	FrameNumber ekValues `json:"frame_number,omitempty"`
	FrameTime   ekValues `json:"frame_time_epoch,omitempty"`

	IPSrc   ekValues `json:"ip_src,omitempty"`
	IPDst   ekValues `json:"ip_dst,omitempty"`
	IPv6Src ekValues `json:"ipv6_src,omitempty"`
	IPv6Dst ekValues `json:"ipv6_dst,omitempty"`

	TCPSrcPort ekValues `json:"tcp_srcport,omitempty"`
	TCPDstPort ekValues `json:"tcp_dstport,omitempty"`
	TCPSeqRaw  ekValues `json:"tcp_seq_raw,omitempty"`
	TCPSyn     ekValues `json:"tcp_flags_syn,omitempty"`
	TCPAck     ekValues `json:"tcp_flags_ack,omitempty"`
	TCPPayload ekValues `json:"tcp_payload,omitempty"`
}

var fields = []string{
	"frame.number", "frame.time_epoch",
	"ip.src", "ip.dst", "ipv6.src", "ipv6.dst",
	"tcp.srcport", "tcp.dstport", "tcp.seq_raw",
	"tcp.flags.syn", "tcp.flags.ack",
	"tcp.payload",
}

// ekValues accepts a scalar or an array of scalars. Newer tshark builds emit
// numbers and booleans unquoted.
type ekValues []string

func (v *ekValues) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if len(b) > 0 && b[0] == '[' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		raw = []json.RawMessage{b}
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, strings.TrimSpace(string(r)))
	}
	*v = out
	return nil
}

func (v ekValues) first() string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
