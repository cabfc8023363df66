// Package reassembly rebuilds per-direction byte streams of TCP flows from
// individually captured segments.
//
// When segments carry sequence numbers they are placed by offset and the
// first-seen bytes win for any overlapping range. Without sequence numbers
// payloads are concatenated in the order the loader emitted them, which only
// approximates the wire order: reordered or retransmitted segments are not
// detected on that path.
package reassembly

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"wstrace/internal/models"
)

// Error marks a flow whose segments cannot be ordered consistently.
type Error struct {
	Flow      models.FlowID
	Direction models.Direction
	Reason    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: flow %s (%s): %s", models.StreamReassemblyError, e.Flow, e.Direction, e.Reason)
}

func (e *Error) Kind() models.ErrorKind { return models.StreamReassemblyError }

// Flow is one bidirectional TCP conversation.
type Flow struct {
	ID      models.FlowID
	Ordinal int
	// FirstIndex is the capture index of the first packet seen on the flow.
	FirstIndex int64
	Client     models.Endpoint
	Packets    int

	streams [2]*Stream
	err     error
	done    bool
}

// Stream returns the stream for one direction.
func (f *Flow) Stream(d models.Direction) *Stream { return f.streams[d] }

// Err reports the reassembly failure, if any, after Assemble.
func (f *Flow) Err() error { return f.err }

func (f *Flow) add(p models.Packet) {
	f.Packets++
	s := f.streams[p.Direction]
	if p.SYN && p.HasSeq {
		s.markSyn(p.Seq)
	}
	if len(p.Payload) == 0 {
		return
	}
	if p.HasSeq {
		s.addSequenced(p.Seq, p.Payload, p.Index)
	} else {
		s.addArrival(p.Payload, p.Index)
	}
}

// Assemble orders both directions. It is idempotent.
func (f *Flow) Assemble() error {
	if f.done {
		return f.err
	}
	f.done = true
	for _, d := range []models.Direction{models.ClientToServer, models.ServerToClient} {
		s := f.streams[d]
		if s.sequenced > 0 && s.unseq > 0 {
			f.err = &Error{Flow: f.ID, Direction: d, Reason: "mix of sequenced and unsequenced segments"}
			return f.err
		}
		if hole := s.assemble(); hole >= 0 {
			f.err = &Error{Flow: f.ID, Direction: d, Reason: fmt.Sprintf("missing bytes at relative offset %d", hole)}
			return f.err
		}
	}
	return nil
}

// Reassembler owns the flow table for one run.
type Reassembler struct {
	flows map[models.FlowID]*Flow
	order []*Flow
	log   logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Reassembler {
	return &Reassembler{
		flows: make(map[models.FlowID]*Flow),
		log:   log,
	}
}

// Add routes a packet to its flow, creating the flow on first sight.
func (r *Reassembler) Add(p models.Packet) {
	f, ok := r.flows[p.Flow]
	if !ok {
		f = &Flow{
			ID:         p.Flow,
			Ordinal:    len(r.order),
			FirstIndex: p.Index,
			Client:     p.Src,
			streams:    [2]*Stream{{}, {}},
		}
		if p.Direction == models.ServerToClient {
			f.Client = p.Dst
		}
		r.flows[p.Flow] = f
		r.order = append(r.order, f)
	}
	f.add(p)
}

// Flows returns every flow in first-seen order and assembles it. Flows that
// fail are still returned; their Err is set.
func (r *Reassembler) Flows() []*Flow {
	for _, f := range r.order {
		if err := f.Assemble(); err != nil {
			continue
		}
		if r.log == nil {
			continue
		}
		for _, d := range []models.Direction{models.ClientToServer, models.ServerToClient} {
			if n := f.streams[d].Conflicts(); n > 0 {
				r.log.WithFields(logrus.Fields{
					"flow":      f.ID.String(),
					"direction": d.String(),
					"conflicts": n,
				}).Debug("retransmissions with differing bytes, kept first-seen data")
			}
		}
	}
	return r.order
}

// Len is the number of flows seen so far.
func (r *Reassembler) Len() int { return len(r.order) }
