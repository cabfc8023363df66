package behinder

import (
	"bytes"
	"regexp"
	"sort"
)

var (
	quotedKey = regexp.MustCompile(`"(\w{16})"`)
	bareKey   = regexp.MustCompile(`^\w{16}$`)
)

// Candidate is a possible key and how many sampled bodies it decrypted.
type Candidate struct {
	Key   string
	Seen  int
	Score int
}

// Candidates collects key-shaped tokens from bodies, most frequent first.
// Handshake responses return the session key as a bare 16-character body;
// some variants put it in a quoted JSON field. DefaultKey is always included.
func Candidates(bodies [][]byte) []Candidate {
	seen := make(map[string]int)
	for _, b := range bodies {
		b = bytes.TrimSpace(b)
		if bareKey.Match(b) {
			seen[string(b)]++
			continue
		}
		for _, m := range quotedKey.FindAllSubmatch(b, -1) {
			seen[string(m[1])]++
		}
	}
	if _, ok := seen[DefaultKey]; !ok {
		seen[DefaultKey] = 0
	}
	out := make([]Candidate, 0, len(seen))
	for k, n := range seen {
		out = append(out, Candidate{Key: k, Seen: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seen != out[j].Seen {
			return out[i].Seen > out[j].Seen
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// DiscoverKeys scores every candidate found in bodies by how many of them
// it decrypts, best first. Candidates that decrypt nothing are dropped.
func DiscoverKeys(bodies [][]byte, codecs []Codec) []Candidate {
	var out []Candidate
	for _, c := range Candidates(bodies) {
		key, err := ParseKey(c.Key)
		if err != nil {
			continue
		}
		d, err := NewDecryptor(key, codecs)
		if err != nil {
			continue
		}
		for _, b := range bodies {
			if res, err := d.Decrypt(b); err == nil && res.Codec != RawCodec {
				c.Score++
			}
		}
		if c.Score > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
