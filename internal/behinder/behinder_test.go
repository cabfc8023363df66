package behinder

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wstrace/internal/models"
)

const testKey = "e45e329feb5d925b"

func mustKey(t *testing.T, s string) Key {
	t.Helper()
	k, err := ParseKey(s)
	require.NoError(t, err)
	return k
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), k.Raw)

	k, err = ParseKey("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, k.Raw)

	for _, bad := range []string{"", "short", "zz0102030405060708090a0b0c0d0e0f", "0123456789abcdef0"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestMD5KeyRule(t *testing.T) {
	// The stock password "rebeyond" derives the default key.
	assert.Equal(t, DefaultKey, string(md5Key(Key{Secret: "rebeyond"})))
}

func TestCodecRoundTrip(t *testing.T) {
	key := mustKey(t, testKey)
	for _, c := range registry {
		for n := 0; n <= 64; n++ {
			pt := make([]byte, n)
			_, err := rand.Read(pt)
			require.NoError(t, err)

			ct, err := c.Encrypt(pt, key)
			require.NoError(t, err)
			if n == 0 && strings.HasPrefix(c.Name(), "xor") {
				assert.Empty(t, ct)
				continue
			}
			got, err := c.Decrypt(ct, key)
			require.NoError(t, err, "%s len %d", c.Name(), n)
			assert.Equal(t, pt, got.Data, "%s len %d", c.Name(), n)
		}
	}
}

func TestStrictPadding(t *testing.T) {
	_, _, err := unpad(append(bytes.Repeat([]byte{'a'}, 13), 3, 2, 3))
	assert.Error(t, err)
	_, _, err = unpad(append(bytes.Repeat([]byte{'a'}, 15), 0))
	assert.Error(t, err)
	_, _, err = unpad(append(bytes.Repeat([]byte{'a'}, 15), 17))
	assert.Error(t, err)
	out, n, err := unpad(append(bytes.Repeat([]byte{'a'}, 14), 2, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, out, 14)
}

func TestCodecsLookup(t *testing.T) {
	all, err := Codecs()
	require.NoError(t, err)
	assert.Len(t, all, len(Names()))
	assert.Equal(t, "aes-ecb", all[0].Name())

	picked, err := Codecs("xor", "aes-cbc", "xor")
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "xor", picked[0].Name())

	_, err = Codecs("rot13")
	assert.Error(t, err)
}

func TestDecodeBodyLenient(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0xfe, 0x01, 0x02}
	std := base64.StdEncoding.EncodeToString(raw)
	url := base64.RawURLEncoding.EncodeToString(raw)

	for _, in := range []string{std, url, "  " + std + "\r\n", strings.TrimRight(std, "="), std + "<br>"} {
		got, err := DecodeBody([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, raw, got, in)
	}

	// A dangling sextet is dropped.
	got, err := DecodeBody([]byte("QUJD" + "R"))
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(got))

	_, err = DecodeBody([]byte("<<<"))
	assert.Error(t, err)
}

func encryptBody(t *testing.T, d *Decryptor, codec, plaintext string) []byte {
	t.Helper()
	body, err := d.Encrypt(codec, []byte(plaintext))
	require.NoError(t, err)
	return body
}

const consoleOutput = "whoami\r\nnt authority\\system\r\n\r\nC:\\inetpub\\wwwroot>"

func TestDecryptorPicksCodecAndRemembersIt(t *testing.T) {
	all, err := Codecs()
	require.NoError(t, err)
	d, err := NewDecryptor(mustKey(t, testKey), all)
	require.NoError(t, err)

	res, err := d.Decrypt(encryptBody(t, d, "aes-cbc", `{"status":"c3VjY2Vzcw==","msg":"b2s="}`))
	require.NoError(t, err)
	assert.Equal(t, "aes-cbc", res.Codec)
	assert.Equal(t, models.StructuredText, res.Kind)
	assert.Equal(t, "json", res.Ext)
	assert.JSONEq(t, `{"status":"success","msg":"ok"}`, string(res.Companion))
	assert.Equal(t, int32(1), d.last.Load())

	res, err = d.Decrypt(encryptBody(t, d, "xor", consoleOutput))
	require.NoError(t, err)
	assert.Equal(t, "xor", res.Codec)
	assert.Equal(t, models.PlainText, res.Kind)

	res, err = d.Decrypt(encryptBody(t, d, "aes-ecb-md5", "id"))
	require.NoError(t, err)
	assert.Equal(t, "aes-ecb-md5", res.Codec)
	assert.Equal(t, "id", string(res.Data))
}

func TestEveryCodecDecodesUnderDefaultOrder(t *testing.T) {
	plaintexts := []string{
		`{"status":"c3VjY2Vzcw==","msg":"cm9vdA=="}`,
		`{"cmd":"d2hvYW1p"}`,
		consoleOutput,
		"uid=33(www-data) gid=33(www-data) groups=33(www-data)\n",
	}
	all, err := Codecs()
	require.NoError(t, err)
	for _, name := range Names() {
		for _, pt := range plaintexts {
			d, err := NewDecryptor(mustKey(t, testKey), all)
			require.NoError(t, err)

			res, err := d.Decrypt(encryptBody(t, d, name, pt))
			require.NoError(t, err, "%s %q", name, pt)
			assert.Equal(t, name, res.Codec, "%q", pt)
			assert.Equal(t, pt, string(res.Data), name)
		}
	}
}

func TestPlainBodiesAreDecryptErrors(t *testing.T) {
	all, err := Codecs()
	require.NoError(t, err)
	d, err := NewDecryptor(mustKey(t, testKey), all)
	require.NoError(t, err)

	var bodies [][]byte
	for _, body := range []string{
		"OK", "ok\r\n", "done", "test", "fail", "error", "200", "1", "true",
		"success", "pong", "abcd", "Hello World", "{}", "404 page not found", "BMAAAAAAAA",
	} {
		_, err := d.Decrypt([]byte(body))
		var derr *DecryptError
		assert.True(t, errors.As(err, &derr), "%q gave %v", body, err)
		bodies = append(bodies, []byte(body))
	}
	assert.Empty(t, DiscoverKeys(bodies, all))
}

func TestRawFileBodyIsKeptAsIs(t *testing.T) {
	all, err := Codecs()
	require.NoError(t, err)
	d, err := NewDecryptor(mustKey(t, testKey), all)
	require.NoError(t, err)

	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1}
	res, err := d.Decrypt(png)
	require.NoError(t, err)
	assert.Equal(t, RawCodec, res.Codec)
	assert.Equal(t, models.Binary, res.Kind)
	assert.Equal(t, "png", res.Ext)
	assert.Equal(t, png, res.Data)

	// Raw files do not count as evidence for a key.
	assert.Empty(t, DiscoverKeys([][]byte{png}, all))
}

func TestDecryptErrorNamesFlow(t *testing.T) {
	flow := models.NewFlowID(
		models.Endpoint{Addr: "192.168.56.1", Port: 50000},
		models.Endpoint{Addr: "192.168.56.101", Port: 8080},
	)
	err := &DecryptError{Flow: 2, FlowID: flow, Exchange: 4, Side: models.ServerToClient, Tried: []string{"aes-ecb"}, Err: errPadding}
	assert.Contains(t, err.Error(), "flow 002 (192.168.56.1:50000 <-> 192.168.56.101:8080) exchange 4 resp")
}

func TestWrongKeyIsDecryptError(t *testing.T) {
	codecs, err := Codecs("aes-ecb")
	require.NoError(t, err)
	good, err := NewDecryptor(mustKey(t, testKey), codecs)
	require.NoError(t, err)
	bad, err := NewDecryptor(mustKey(t, "0000000000000000"), codecs)
	require.NoError(t, err)

	first := encryptBody(t, good, "aes-ecb", strings.Repeat("payload ", 8))
	_, err = bad.Decrypt(first)
	var derr *DecryptError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, models.DecryptError, derr.Kind())
	assert.Equal(t, []string{"aes-ecb"}, derr.Tried)

	// A failure leaves the decryptor usable for the next body.
	res, err := good.Decrypt(encryptBody(t, good, "aes-ecb", "next"))
	require.NoError(t, err)
	assert.Equal(t, "next", string(res.Data))
}

func TestSkippedBodies(t *testing.T) {
	codecs, err := Codecs()
	require.NoError(t, err)
	d, err := NewDecryptor(mustKey(t, testKey), codecs)
	require.NoError(t, err)

	for _, body := range []string{"", "  \r\n", "<!DOCTYPE html><html><body>It works</body></html>"} {
		_, err := d.Decrypt([]byte(body))
		assert.ErrorIs(t, err, ErrSkipped, "%q", body)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		kind models.Kind
		ext  string
	}{
		{"json object", []byte(`{"a":1}`), models.StructuredText, "json"},
		{"json array", []byte(` [1,2] `), models.StructuredText, "json"},
		{"broken json", []byte(`{"a":`), models.PlainText, "txt"},
		{"utf8", []byte("uid=0(root) gid=0(root)\n"), models.PlainText, "txt"},
		{"gbk", []byte{0xc4, 0xe3, 0xba, 0xc3, 0x0d, 0x0a}, models.PlainText, "txt"},
		{"class", []byte{0xca, 0xfe, 0xba, 0xbe, 0x00, 0x00, 0x00, 0x34, 0x00}, models.Binary, "class"},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}, models.Binary, "png"},
		{"noise", []byte{0x00, 0x01, 0x02, 0x03, 0xff, 0x9f, 0x80, 0x00}, models.Binary, "bin"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, ext := Classify(tc.in)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.ext, ext)
		})
	}
}

func TestDecodeNested(t *testing.T) {
	inner := base64.StdEncoding.EncodeToString([]byte(`{"path":"L3Zhci93d3c="}`))
	out, err := DecodeNested([]byte(`{"status":"c3VjY2Vzcw==","msg":"` + inner + `","n":3,"list":["dGVzdA=="],"word":"root"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","msg":{"path":"/var/www"},"n":3,"list":["test"],"word":"root"}`, string(out))

	_, err = DecodeNested([]byte("not json"))
	assert.Error(t, err)
}

func TestDiscoverKeys(t *testing.T) {
	const sessionKey = "a1b2c3d4e5f6a7b8"
	codecs, err := Codecs()
	require.NoError(t, err)
	d, err := NewDecryptor(mustKey(t, sessionKey), codecs)
	require.NoError(t, err)

	bodies := [][]byte{
		[]byte(sessionKey),
		[]byte(`{"token":"zzzzzzzzzzzzzzzz"}`),
		encryptBody(t, d, "aes-ecb", `{"status":"c3VjY2Vzcw=="}`),
		encryptBody(t, d, "aes-ecb", "cmd /c dir"),
	}

	cands := Candidates(bodies)
	var keys []string
	for _, c := range cands {
		keys = append(keys, c.Key)
	}
	assert.Contains(t, keys, sessionKey)
	assert.Contains(t, keys, "zzzzzzzzzzzzzzzz")
	assert.Contains(t, keys, DefaultKey)

	found := DiscoverKeys(bodies, codecs)
	require.NotEmpty(t, found)
	assert.Equal(t, sessionKey, found[0].Key)
	assert.GreaterOrEqual(t, found[0].Score, 2)
}
