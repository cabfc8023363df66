package behinder

import (
	"github.com/pkg/errors"
)

var (
	errLength  = errors.New("ciphertext length is not a multiple of the block size")
	errPadding = errors.New("invalid PKCS#7 padding")
	errEmpty   = errors.New("empty ciphertext")
)

// Evidence is how much a codec's own structural checks vouch for its output.
type Evidence int

const (
	// Strong output passed a check random data fails at least 65535 times
	// in 65536, such as two or more valid padding bytes.
	Strong Evidence = iota
	// Weak output passed a single padding byte, one time in 256 for noise.
	Weak
	// Unverified output passed no check at all: XOR decodes anything.
	Unverified
)

// Plaintext is the output of one codec.
type Plaintext struct {
	Data     []byte
	Evidence Evidence
}

// Codec is one decoding variant of the wire scheme.
type Codec interface {
	Name() string
	Encrypt(plaintext []byte, key Key) ([]byte, error)
	// Decrypt fails when the ciphertext is structurally invalid for this
	// codec.
	Decrypt(ciphertext []byte, key Key) (Plaintext, error)
}

// registry lists every supported codec, default first.
var registry = []Codec{
	&aesCodec{name: "aes-ecb", mode: ecb, derive: rawKey},
	&aesCodec{name: "aes-cbc", mode: cbc, derive: rawKey},
	&xorCodec{name: "xor", derive: rawKey},
	&aesCodec{name: "aes-ecb-md5", mode: ecb, derive: md5Key},
	&aesCodec{name: "aes-cbc-md5", mode: cbc, derive: md5Key},
	&xorCodec{name: "xor-md5", derive: md5Key},
}

// Names returns the registered codec names in default order.
func Names() []string {
	out := make([]string, len(registry))
	for i, c := range registry {
		out[i] = c.Name()
	}
	return out
}

// Codecs resolves names to codecs, keeping the given order. No names means
// every codec in default order.
func Codecs(names ...string) ([]Codec, error) {
	if len(names) == 0 {
		return append([]Codec(nil), registry...), nil
	}
	out := make([]Codec, 0, len(names))
	seen := make(map[string]bool)
	for _, n := range names {
		c := lookup(n)
		if c == nil {
			return nil, errors.Errorf("unknown codec %q", n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, c)
	}
	return out, nil
}

func lookup(name string) Codec {
	for _, c := range registry {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

var descriptions = map[string]string{
	"aes-ecb":     "AES-128-ECB, PKCS#7, raw key (Java and .NET shells)",
	"aes-cbc":     "AES-128-CBC, zero IV, PKCS#7, raw key (PHP openssl shells)",
	"xor":         "XOR with key[(i+1)&15] (PHP shells without openssl)",
	"aes-ecb-md5": "aes-ecb keyed with md5(secret)[:16]",
	"aes-cbc-md5": "aes-cbc keyed with md5(secret)[:16]",
	"xor-md5":     "xor keyed with md5(secret)[:16]",
}

// Describe returns a one-line description of a registered codec.
func Describe(name string) string { return descriptions[name] }
