package behinder

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

type blockMode int

const (
	ecb blockMode = iota
	// cbc uses an all-zero IV, as PHP's openssl_encrypt does when none is given.
	cbc
)

type aesCodec struct {
	name   string
	mode   blockMode
	derive keyRule
}

func (c *aesCodec) Name() string { return c.name }

func (c *aesCodec) block(key Key) (cipher.Block, error) {
	b, err := aes.NewCipher(c.derive(key))
	return b, errors.Wrap(err, c.name)
}

func (c *aesCodec) Encrypt(plaintext []byte, key Key) ([]byte, error) {
	b, err := c.block(key)
	if err != nil {
		return nil, err
	}
	buf := pad(plaintext)
	out := make([]byte, len(buf))
	switch c.mode {
	case cbc:
		cipher.NewCBCEncrypter(b, make([]byte, aes.BlockSize)).CryptBlocks(out, buf)
	default:
		for i := 0; i < len(buf); i += aes.BlockSize {
			b.Encrypt(out[i:i+aes.BlockSize], buf[i:i+aes.BlockSize])
		}
	}
	return out, nil
}

func (c *aesCodec) Decrypt(ciphertext []byte, key Key) (Plaintext, error) {
	if len(ciphertext) == 0 {
		return Plaintext{}, errEmpty
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return Plaintext{}, errLength
	}
	b, err := c.block(key)
	if err != nil {
		return Plaintext{}, err
	}
	out := make([]byte, len(ciphertext))
	switch c.mode {
	case cbc:
		cipher.NewCBCDecrypter(b, make([]byte, aes.BlockSize)).CryptBlocks(out, ciphertext)
	default:
		for i := 0; i < len(ciphertext); i += aes.BlockSize {
			b.Decrypt(out[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
		}
	}
	data, n, err := unpad(out)
	if err != nil {
		return Plaintext{}, err
	}
	ev := Strong
	if n == 1 {
		ev = Weak
	}
	return Plaintext{Data: data, Evidence: ev}, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, int, error) {
	if len(b) == 0 {
		return nil, 0, errPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, 0, errPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, 0, errPadding
		}
	}
	return b[:len(b)-n], n, nil
}
