package behinder

import (
	"bytes"
	"unicode"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/valyala/fastjson"
	"golang.org/x/text/encoding/simplifiedchinese"

	"wstrace/internal/models"
)

const (
	printableRatio = 0.9

	// Unverified output shorter than minUnverified is rejected. Text needs
	// minUnverifiedText bytes, all of them printable UTF-8.
	minUnverified     = 16
	minUnverifiedText = 32
)

var javaClass = []byte{0xCA, 0xFE, 0xBA, 0xBE}

// magicTypes are the sniffed types whose signature is at least three bytes
// long, which noise matches too rarely to matter.
var magicTypes = map[string]bool{
	"class": true, "png": true, "jpg": true, "gif": true, "pdf": true,
	"zip": true, "rar": true, "7z": true, "gz": true, "bz2": true,
	"xz": true, "elf": true, "sqlite": true,
}

// Classify decides how a plaintext is stored and which extension it gets.
func Classify(pt []byte) (models.Kind, string) {
	if isStructured(pt) {
		return models.StructuredText, "json"
	}
	if isText(pt) {
		return models.PlainText, "txt"
	}
	return models.Binary, sniff(pt)
}

// recognizable reports whether pt looks like something a shell sends
// rather than random bytes.
func recognizable(pt []byte) bool {
	return isStructured(pt) || isText(pt) || sniff(pt) != "bin"
}

// score rates how plausible pt is as a decrypted body, given what its codec
// vouched for. Zero rejects it. When several codecs accept one ciphertext
// the highest score wins.
func score(pt []byte, ev Evidence) float64 {
	switch ev {
	case Weak:
		if !recognizable(pt) {
			return 0
		}
	case Unverified:
		if len(pt) < minUnverified {
			return 0
		}
		if !isStructured(pt) && !magicTypes[sniff(pt)] && (len(pt) < minUnverifiedText || !strictText(pt)) {
			return 0
		}
	}
	switch {
	case isStructured(pt):
		return 3
	case sniff(pt) != "bin":
		return 2
	default:
		return 1 + wordiness(pt)/2
	}
}

func isStructured(pt []byte) bool {
	b := bytes.TrimSpace(pt)
	if len(b) == 0 || (b[0] != '{' && b[0] != '[') {
		return false
	}
	return fastjson.ValidateBytes(b) == nil
}

func isText(pt []byte) bool {
	if utf8.Valid(pt) {
		return printable(string(pt))
	}
	// Windows shells return command output in the console code page.
	s, err := simplifiedchinese.GBK.NewDecoder().Bytes(pt)
	if err != nil || bytes.ContainsRune(s, utf8.RuneError) {
		return false
	}
	return printable(string(s))
}

// strictText accepts valid UTF-8 made only of printable runes and line
// breaks. Unlike isText it has no code page fallback.
func strictText(pt []byte) bool {
	if !utf8.Valid(pt) {
		return false
	}
	for _, r := range string(pt) {
		if !unicode.IsPrint(r) && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}

// wordiness is the share of letters and spaces among the runes of pt. A
// wrong XOR key turns them into digits and punctuation.
func wordiness(pt []byte) float64 {
	total, n := 0, 0
	for _, r := range string(pt) {
		total++
		if unicode.IsLetter(r) || r == ' ' || r == '\n' {
			n++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func printable(s string) bool {
	total, ok := 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			ok++
		}
	}
	if total == 0 {
		return true
	}
	return float64(ok)/float64(total) >= printableRatio
}

func sniff(pt []byte) string {
	if bytes.HasPrefix(pt, javaClass) {
		return "class"
	}
	kind, err := filetype.Match(pt)
	if err != nil || kind == filetype.Unknown || kind.Extension == "" {
		return "bin"
	}
	return kind.Extension
}
