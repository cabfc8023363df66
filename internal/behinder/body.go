package behinder

import (
	"bytes"
	"encoding/base64"

	"github.com/pkg/errors"
)

var errNotBase64 = errors.New("body has no base64 content")

// DecodeBody extracts the ciphertext from an HTTP body. Decoding is lenient:
// the URL-safe alphabet is accepted, only the leading run of base64
// characters is used, padding is optional and a dangling sextet is dropped.
func DecodeBody(body []byte) ([]byte, error) {
	b := bytes.TrimSpace(body)
	norm := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case '-':
			c = '+'
		case '_':
			c = '/'
		}
		if !isBase64(c) {
			break
		}
		norm = append(norm, c)
	}
	norm = bytes.TrimRight(norm, "=")
	if len(norm)%4 == 1 {
		norm = norm[:len(norm)-1]
	}
	if len(norm) == 0 {
		return nil, errNotBase64
	}
	out := make([]byte, base64.RawStdEncoding.DecodedLen(len(norm)))
	m, err := base64.RawStdEncoding.Decode(out, norm)
	if err != nil {
		return nil, errors.Wrap(err, "base64 body")
	}
	return out[:m], nil
}

// EncodeBody is the inverse of DecodeBody for well-formed input.
func EncodeBody(ciphertext []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(ciphertext)))
	base64.StdEncoding.Encode(out, ciphertext)
	return out
}

func isBase64(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
		c == '+' || c == '/' || c == '='
}
