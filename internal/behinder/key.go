package behinder

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/pkg/errors"
)

// KeySize is the AES-128 key length every supported shell uses.
const KeySize = 16

// DefaultKey is the key a stock shell derives from the password "rebeyond".
const DefaultKey = "e45e329feb5d925b"

// Key is the operator-supplied secret and the 16 bytes it denotes.
type Key struct {
	Secret string
	Raw    []byte
}

// ParseKey accepts 16 literal characters or 32 hex digits.
func ParseKey(s string) (Key, error) {
	switch len(s) {
	case KeySize:
		return Key{Secret: s, Raw: []byte(s)}, nil
	case 2 * KeySize:
		raw, err := hex.DecodeString(s)
		if err != nil {
			return Key{}, errors.Wrap(err, "32-character key must be hex")
		}
		return Key{Secret: s, Raw: raw}, nil
	default:
		return Key{}, errors.Errorf("key must be %d characters or %d hex digits, got %d characters", KeySize, 2*KeySize, len(s))
	}
}

func (k Key) String() string { return k.Secret }

// keyRule maps a Key to the bytes a codec feeds to its cipher.
type keyRule func(Key) []byte

func rawKey(k Key) []byte { return k.Raw }

// md5Key is what shells do with a plain password: the first 16 hex digits
// of its MD5.
func md5Key(k Key) []byte {
	sum := md5.Sum([]byte(k.Secret))
	return []byte(hex.EncodeToString(sum[:])[:KeySize])
}
