package models

// Kind classifies recovered plaintext.
type Kind int

const (
	Binary Kind = iota
	StructuredText
	PlainText
)

func (k Kind) String() string {
	switch k {
	case StructuredText:
		return "structured"
	case PlainText:
		return "text"
	default:
		return "binary"
	}
}

// Artifact is one decrypted exchange side ready to be persisted.
type Artifact struct {
	Flow     int // flow ordinal in first-seen order
	Exchange int // exchange index within the flow
	Side     Direction

	Kind Kind
	Ext  string
	Data []byte

	// Companion carries the nested-decoded form of a structured message.
	Companion []byte

	Codec string

	// Order is the capture index of the first byte of the originating request.
	Order int64
}

// ErrorKind names the failure classes reported by the pipeline.
type ErrorKind string

const (
	CaptureReadError      ErrorKind = "CaptureReadError"
	StreamReassemblyError ErrorKind = "StreamReassemblyError"
	HttpParseError        ErrorKind = "HttpParseError"
	DecryptError          ErrorKind = "DecryptError"
	IoWriteError          ErrorKind = "IoWriteError"
	// KeyNotFound is recorded when key discovery falls back to the default key.
	KeyNotFound ErrorKind = "KeyNotFound"
)
