package reassembly

import (
	"bytes"
	"sort"

	"github.com/google/gopacket/tcpassembly"
)

// chunk is a stored byte range. Ranges never overlap.
type chunk struct {
	off   int64
	data  []byte
	index int64 // capture index of the contributing packet
}

func (c chunk) end() int64 { return c.off + int64(len(c.data)) }

// Stream is one direction of a flow: its ordered bytes and a read cursor.
type Stream struct {
	// collection state
	chunks    []chunk
	arrival   []chunk
	sequenced int
	unseq     int
	first     tcpassembly.Sequence
	haveFirst bool
	synStart  int64
	haveSyn   bool
	conflicts int

	// assembled state
	buf    []byte
	starts []int64 // buffer offset where each contributing packet begins
	owners []int64 // capture index for the matching starts entry
	cursor int
}

// relative is the offset of seq from the first sequence number seen on the
// stream. It is negative for segments that precede it.
func (s *Stream) relative(seq uint32) int64 {
	if !s.haveFirst {
		s.first = tcpassembly.Sequence(seq)
		s.haveFirst = true
	}
	return int64(s.first.Difference(tcpassembly.Sequence(seq)))
}

func (s *Stream) markSyn(isn uint32) {
	s.synStart = s.relative(isn) + 1
	s.haveSyn = true
}

func (s *Stream) addSequenced(seq uint32, data []byte, index int64) {
	s.sequenced++
	s.insert(s.relative(seq), data, index)
}

func (s *Stream) addArrival(data []byte, index int64) {
	s.unseq++
	s.arrival = append(s.arrival, chunk{data: data, index: index})
}

// insert stores only the bytes of [off, off+len(data)) not yet covered, so
// the first-seen bytes win for every offset.
func (s *Stream) insert(off int64, data []byte, index int64) {
	end := off + int64(len(data))
	pos := off
	var fresh []chunk
	for _, c := range s.chunks {
		if c.end() <= pos {
			continue
		}
		if c.off >= end {
			break
		}
		if c.off > pos {
			fresh = append(fresh, chunk{off: pos, data: data[pos-off : c.off-off], index: index})
		}
		// overlapping region: compare for conflicting retransmissions
		lo, hi := max(pos, c.off), min(end, c.end())
		if !bytes.Equal(data[lo-off:hi-off], c.data[lo-c.off:hi-c.off]) {
			s.conflicts++
		}
		pos = max(pos, c.end())
		if pos >= end {
			break
		}
	}
	if pos < end {
		fresh = append(fresh, chunk{off: pos, data: data[pos-off:], index: index})
	}
	if len(fresh) == 0 {
		return
	}
	s.chunks = append(s.chunks, fresh...)
	sort.Slice(s.chunks, func(i, j int) bool { return s.chunks[i].off < s.chunks[j].off })
}

// assemble builds the contiguous buffer. It returns the offset of the first
// hole, or -1 when the stream is contiguous.
func (s *Stream) assemble() int64 {
	s.buf, s.starts, s.owners = nil, nil, nil
	if len(s.arrival) > 0 {
		for _, c := range s.arrival {
			s.push(c)
		}
		return -1
	}
	if len(s.chunks) == 0 {
		return -1
	}

	next := s.chunks[0].off
	if s.haveSyn && s.synStart < next {
		return s.synStart
	}
	for _, c := range s.chunks {
		if c.off > next {
			return next
		}
		s.push(c)
		next = c.end()
	}
	return -1
}

func (s *Stream) push(c chunk) {
	s.starts = append(s.starts, int64(len(s.buf)))
	s.owners = append(s.owners, c.index)
	s.buf = append(s.buf, c.data...)
}

// Bytes returns the unconsumed part of the stream.
func (s *Stream) Bytes() []byte { return s.buf[s.cursor:] }

// Len is the total assembled length.
func (s *Stream) Len() int { return len(s.buf) }

// Cursor is the offset of the first unconsumed byte.
func (s *Stream) Cursor() int { return s.cursor }

// Advance marks n more bytes as consumed.
func (s *Stream) Advance(n int) {
	s.cursor = min(s.cursor+n, len(s.buf))
}

// Discard consumes the rest of the stream.
func (s *Stream) Discard() { s.cursor = len(s.buf) }

// IndexAt returns the capture index of the packet that supplied the byte at
// buffer offset off, or -1 when off is out of range.
func (s *Stream) IndexAt(off int) int64 {
	if off < 0 || off >= len(s.buf) {
		return -1
	}
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > int64(off) }) - 1
	return s.owners[i]
}

// Conflicts counts retransmissions whose bytes differed from the stored ones.
func (s *Stream) Conflicts() int { return s.conflicts }
