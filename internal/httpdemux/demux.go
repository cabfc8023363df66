// Package httpdemux splits reassembled TCP streams into HTTP messages.
package httpdemux

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"wstrace/internal/models"
	"wstrace/internal/reassembly"
)

var (
	requestLine = regexp.MustCompile(`(?m)^(?:GET|POST|PUT|HEAD|DELETE|OPTIONS|PATCH|TRACE|CONNECT) \S+ HTTP/\d\.\d\r?\n`)
	statusLine  = regexp.MustCompile(`(?m)^HTTP/\d\.\d \d{3}(?: [^\r\n]*)?\r?\n`)
)

// Message is one HTTP request or response recovered from a stream.
type Message struct {
	Direction models.Direction
	Exchange  int

	StartLine  string
	Method     string
	Target     string
	StatusCode int
	Header     http.Header

	// Body is dechunked and content-decoded.
	Body            []byte
	ContentEncoding string

	// Offset and Length locate the message inside its stream.
	Offset int
	Length int
	// Index is the capture index of the packet carrying the first byte.
	Index int64
}

// Get returns the last value of a header, ignoring case.
func (m *Message) Get(key string) string {
	vs := m.Header.Values(key)
	if len(vs) == 0 {
		return ""
	}
	return vs[len(vs)-1]
}

// Values returns every value of a multi-valued header.
func (m *Message) Values(key string) []string { return m.Header.Values(key) }

// ParseError reports one message that could not be parsed.
type ParseError struct {
	Flow      models.FlowID
	Direction models.Direction
	Offset    int
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: flow %s (%s) at offset %d: %v", models.HttpParseError, e.Flow, e.Direction, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Kind() models.ErrorKind { return models.HttpParseError }

// Demuxer parses the streams of one flow.
type Demuxer struct {
	Flow models.FlowID
	Log  logrus.FieldLogger
}

func New(flow models.FlowID, log logrus.FieldLogger) *Demuxer {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Demuxer{Flow: flow, Log: log.WithField("flow", flow.String())}
}

// Requests parses the client stream from its cursor.
func (d *Demuxer) Requests(s *reassembly.Stream) ([]*Message, []error) {
	var msgs []*Message
	var errs []error
	for d.skipBlank(s) {
		m, err := d.readRequest(s)
		if err == errTruncated {
			break
		}
		if err != nil {
			errs = append(errs, err)
			if !d.resync(s, requestLine) {
				break
			}
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, errs
}

// Responses parses the server stream. reqs is used to tell which responses
// carry no body (HEAD).
func (d *Demuxer) Responses(s *reassembly.Stream, reqs []*Message) ([]*Message, []error) {
	var msgs []*Message
	var errs []error
	for d.skipBlank(s) {
		var req *http.Request
		if n := len(msgs); n < len(reqs) {
			req = &http.Request{Method: reqs[n].Method}
		}
		m, err := d.readResponse(s, req)
		if err == errTruncated {
			break
		}
		if err != nil {
			errs = append(errs, err)
			if !d.resync(s, statusLine) {
				break
			}
			continue
		}
		if m.StatusCode >= 100 && m.StatusCode < 200 {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, errs
}

var errTruncated = errors.New("truncated message")

// skipBlank drops CR/LF between messages and reports whether bytes remain.
func (d *Demuxer) skipBlank(s *reassembly.Stream) bool {
	rest := s.Bytes()
	n := 0
	for n < len(rest) && (rest[n] == '\r' || rest[n] == '\n') {
		n++
	}
	s.Advance(n)
	return len(s.Bytes()) > 0
}

func (d *Demuxer) readRequest(s *reassembly.Stream) (*Message, error) {
	rest := s.Bytes()
	start := s.Cursor()
	if err := d.checkStartLine(s, rest, requestLine); err != nil {
		return nil, err
	}

	rd := bytes.NewReader(rest)
	br := bufio.NewReader(rd)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, d.failure(s, models.ClientToServer, start, err)
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, d.failure(s, models.ClientToServer, start, errors.Wrap(err, "request body"))
	}
	consumed := len(rest) - rd.Len() - br.Buffered()

	// No declared length: the body is whatever follows, unless it is the
	// next request.
	if req.ContentLength <= 0 && len(req.TransferEncoding) == 0 && req.Header.Get("Content-Length") == "" {
		tail := rest[consumed:]
		next := bytes.TrimLeft(tail, "\r\n")
		if loc := requestLine.FindIndex(next); len(next) > 0 && (loc == nil || loc[0] != 0) {
			body = append([]byte(nil), tail...)
			consumed = len(rest)
		}
	}

	m := &Message{
		Direction: models.ClientToServer,
		StartLine: fmt.Sprintf("%s %s %s", req.Method, req.RequestURI, req.Proto),
		Method:    req.Method,
		Target:    req.RequestURI,
		Header:    req.Header,
		Offset:    start,
		Length:    consumed,
		Index:     s.IndexAt(start),
	}
	d.setBody(m, body)
	s.Advance(consumed)
	return m, nil
}

func (d *Demuxer) readResponse(s *reassembly.Stream, req *http.Request) (*Message, error) {
	rest := s.Bytes()
	start := s.Cursor()
	if err := d.checkStartLine(s, rest, statusLine); err != nil {
		return nil, err
	}

	rd := bytes.NewReader(rest)
	br := bufio.NewReader(rd)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, d.failure(s, models.ServerToClient, start, err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, d.failure(s, models.ServerToClient, start, errors.Wrap(err, "response body"))
	}
	consumed := len(rest) - rd.Len() - br.Buffered()

	m := &Message{
		Direction:  models.ServerToClient,
		StartLine:  fmt.Sprintf("%s %s", resp.Proto, resp.Status),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Offset:     start,
		Length:     consumed,
		Index:      s.IndexAt(start),
	}
	d.setBody(m, body)
	s.Advance(consumed)
	return m, nil
}

func (d *Demuxer) checkStartLine(s *reassembly.Stream, rest []byte, re *regexp.Regexp) error {
	eol := bytes.IndexByte(rest, '\n')
	if eol < 0 {
		d.Log.WithField("offset", s.Cursor()).Debug("incomplete start line, dropping tail")
		s.Discard()
		return errTruncated
	}
	if !re.Match(rest[:eol+1]) {
		return &ParseError{Flow: d.Flow, Direction: dirOf(re), Offset: s.Cursor(), Err: errors.New("no start line at cursor")}
	}
	if !bytes.Contains(rest, []byte("\r\n\r\n")) && !bytes.Contains(rest, []byte("\n\n")) {
		d.Log.WithField("offset", s.Cursor()).Debug("incomplete header block, dropping tail")
		s.Discard()
		return errTruncated
	}
	return nil
}

// failure separates a message cut short by the end of the stream from a
// malformed one.
func (d *Demuxer) failure(s *reassembly.Stream, dir models.Direction, start int, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		d.Log.WithFields(logrus.Fields{"offset": start, "direction": dir.String()}).
			Debug("incomplete message, dropping tail")
		s.Discard()
		return errTruncated
	}
	return &ParseError{Flow: d.Flow, Direction: dir, Offset: start, Err: err}
}

// resync moves the cursor to the next start line after the current position.
// It returns false and consumes everything when none is found.
func (d *Demuxer) resync(s *reassembly.Stream, re *regexp.Regexp) bool {
	rest := s.Bytes()
	if len(rest) <= 1 {
		s.Discard()
		return false
	}
	loc := re.FindIndex(rest[1:])
	if loc == nil {
		d.Log.WithField("offset", s.Cursor()).Debug("no further message boundary, abandoning stream")
		s.Discard()
		return false
	}
	s.Advance(1 + loc[0])
	return true
}

func (d *Demuxer) setBody(m *Message, body []byte) {
	m.Body = body
	enc := m.Get("Content-Encoding")
	if enc == "" || len(body) == 0 {
		return
	}
	decoded, err := DecodeContent(enc, body)
	if err != nil {
		d.Log.WithFields(logrus.Fields{
			"offset":   m.Offset,
			"encoding": enc,
		}).WithError(err).Warn("cannot decode body, keeping raw bytes")
		return
	}
	m.Body = decoded
	m.ContentEncoding = enc
}

func dirOf(re *regexp.Regexp) models.Direction {
	if re == statusLine {
		return models.ServerToClient
	}
	return models.ClientToServer
}

// Exchange is a request and the response at the same position.
type Exchange struct {
	Index    int
	Request  *Message
	Response *Message
}

// Order is the capture index the exchange sorts by.
func (e Exchange) Order() int64 {
	if e.Request != nil {
		return e.Request.Index
	}
	if e.Response != nil {
		return e.Response.Index
	}
	return -1
}

// Pair matches the Nth request with the Nth response.
func Pair(reqs, resps []*Message) []Exchange {
	n := max(len(reqs), len(resps))
	out := make([]Exchange, n)
	for i := range out {
		out[i].Index = i
		if i < len(reqs) {
			out[i].Request = reqs[i]
			reqs[i].Exchange = i
		}
		if i < len(resps) {
			out[i].Response = resps[i]
			resps[i].Exchange = i
		}
	}
	return out
}
