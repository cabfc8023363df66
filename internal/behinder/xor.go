package behinder

// xorCodec is the fallback PHP shells use when openssl is missing: every
// byte is XORed with key[(i+1) & 15].
type xorCodec struct {
	name   string
	derive keyRule
}

func (c *xorCodec) Name() string { return c.name }

func (c *xorCodec) apply(in []byte, key Key) []byte {
	k := c.derive(key)
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ k[(i+1)&15]
	}
	return out
}

func (c *xorCodec) Encrypt(plaintext []byte, key Key) ([]byte, error) {
	return c.apply(plaintext, key), nil
}

func (c *xorCodec) Decrypt(ciphertext []byte, key Key) (Plaintext, error) {
	if len(ciphertext) == 0 {
		return Plaintext{}, errEmpty
	}
	return Plaintext{Data: c.apply(ciphertext, key), Evidence: Unverified}, nil
}
