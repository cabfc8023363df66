// Package behinder decodes the bodies exchanged with Behinder-style web
// shells: base64 around AES-128 or XOR under a 16-byte key.
package behinder

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"

	"wstrace/internal/models"
)

// ErrSkipped marks a body that is not ciphertext: empty, or an HTML page.
var ErrSkipped = errors.New("body carries no ciphertext")

// RawCodec names results taken from bodies that already are a known file
// type and were stored without decryption.
const RawCodec = "raw"

// DecryptError reports a body that no codec could decode.
type DecryptError struct {
	Flow     int
	FlowID   models.FlowID
	Exchange int
	Side     models.Direction
	Tried    []string
	Err      error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("%s: flow %03d (%s) exchange %d %s: no codec of [%s] accepted the body: %v",
		models.DecryptError, e.Flow, e.FlowID, e.Exchange, e.Side.Side(), strings.Join(e.Tried, ", "), e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

func (e *DecryptError) Kind() models.ErrorKind { return models.DecryptError }

// Result is one decrypted body.
type Result struct {
	Codec     string
	Data      []byte
	Kind      models.Kind
	Ext       string
	Companion []byte
}

// Decryptor tries its codecs in order under one key. It is safe for
// concurrent use.
type Decryptor struct {
	key    Key
	codecs []Codec
	// last is the index of the codec that most recently succeeded.
	last atomic.Int32
}

func NewDecryptor(key Key, codecs []Codec) (*Decryptor, error) {
	if len(codecs) == 0 {
		return nil, errors.New("no codecs configured")
	}
	if len(key.Raw) != KeySize {
		return nil, errors.Errorf("key must be %d bytes, got %d", KeySize, len(key.Raw))
	}
	return &Decryptor{key: key, codecs: codecs}, nil
}

func (d *Decryptor) Key() Key { return d.key }

// Decrypt decodes one HTTP body. It returns ErrSkipped for bodies that are
// not ciphertext and a *DecryptError when no codec validates.
//
// Strong output from the first codec that produces it is taken at once.
// Otherwise every codec is tried and the best scoring output wins; ties go
// to the codec tried first, starting with the last one that succeeded.
func (d *Decryptor) Decrypt(body []byte) (*Result, error) {
	if skippable(body) {
		return nil, ErrSkipped
	}
	if ext, ok := rawFile(body); ok {
		return &Result{Codec: RawCodec, Data: body, Kind: models.Binary, Ext: ext}, nil
	}
	ct, err := DecodeBody(body)
	if err != nil {
		return nil, &DecryptError{Tried: d.names(), Err: err}
	}

	first := int(d.last.Load())
	var (
		lastErr   error
		best      []byte
		bestScore float64
	)
	bestIdx := -1
	for i := range d.codecs {
		idx := (first + i) % len(d.codecs)
		c := d.codecs[idx]
		pt, err := c.Decrypt(ct, d.key)
		if err != nil {
			lastErr = err
			continue
		}
		if pt.Evidence == Strong {
			d.last.Store(int32(idx))
			return newResult(c.Name(), pt.Data), nil
		}
		s := score(pt.Data, pt.Evidence)
		if s == 0 {
			lastErr = errors.Errorf("%s output is not recognisable", c.Name())
			continue
		}
		if s > bestScore {
			best, bestIdx, bestScore = pt.Data, idx, s
		}
	}
	if bestIdx < 0 {
		return nil, &DecryptError{Tried: d.names(), Err: lastErr}
	}
	d.last.Store(int32(bestIdx))
	return newResult(d.codecs[bestIdx].Name(), best), nil
}

// Encrypt produces the body a shell would send for plaintext under the named
// codec.
func (d *Decryptor) Encrypt(codec string, plaintext []byte) ([]byte, error) {
	c := lookup(codec)
	if c == nil {
		return nil, errors.Errorf("unknown codec %q", codec)
	}
	ct, err := c.Encrypt(plaintext, d.key)
	if err != nil {
		return nil, err
	}
	return EncodeBody(ct), nil
}

func (d *Decryptor) names() []string {
	out := make([]string, len(d.codecs))
	for i, c := range d.codecs {
		out[i] = c.Name()
	}
	return out
}

func newResult(codec string, data []byte) *Result {
	r := &Result{Codec: codec, Data: data}
	r.Kind, r.Ext = Classify(data)
	if r.Kind == models.StructuredText {
		if c, err := DecodeNested(data); err == nil {
			r.Companion = c
		}
	}
	return r
}

// rawFile reports the type of a body that is a known file as sent, such as
// an upload. Bodies made only of base64 characters are left to the codecs.
func rawFile(body []byte) (string, bool) {
	ext := sniff(body)
	if ext == "bin" {
		return "", false
	}
	for _, c := range bytes.TrimSpace(body) {
		if !isBase64(c) && c != '-' && c != '_' {
			return ext, true
		}
	}
	return "", false
}

func skippable(body []byte) bool {
	b := bytes.TrimSpace(body)
	if len(b) == 0 {
		return true
	}
	return strings.HasPrefix(http.DetectContentType(b), "text/html")
}
