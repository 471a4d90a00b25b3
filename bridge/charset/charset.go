// Package charset turns captured process output into text when the producing program never declared its encoding.
package charset

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Candidate is a named text encoding.
type Candidate struct {
	Name     string
	Encoding encoding.Encoding
}

// UTF8 is the universal fallback candidate.
var UTF8 = Candidate{Name: "utf-8", Encoding: unicode.UTF8}

// Lookup returns the candidate for a charset label such as "utf-8", "cp1252", or "shift_jis".
func Lookup(label string) (Candidate, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return Candidate{}, fmt.Errorf("empty charset label")
	}
	if alias, ok := aliases[label]; ok {
		label = alias
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return Candidate{}, fmt.Errorf("unknown charset %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = label
	}
	if name == "utf-8" {
		return UTF8, nil
	}
	return Candidate{Name: name, Encoding: enc}, nil
}

// aliases covers locale and code page spellings that the WHATWG index does not know.
var aliases = map[string]string{
	"utf8":           "utf-8",
	"ansi_x3.4-1968": "utf-8",
	"ascii":          "utf-8",
	"us-ascii":       "utf-8",
	"eucjp":          "euc-jp",
	"euckr":          "euc-kr",
	"sjis":           "shift_jis",
	"cp936":          "gbk",
	"cp932":          "shift_jis",
	"cp949":          "euc-kr",
	"cp950":          "big5",
	"cp65001":        "utf-8",
}

// Negotiator decodes bytes by trying an ordered list of candidates.
// Primary is used to encode input and as the lossy last resort.
type Negotiator struct {
	primary    Candidate
	candidates []Candidate
}

// New builds a negotiator. Candidates with a name already seen are dropped, keeping the first.
func New(primary Candidate, order ...Candidate) *Negotiator {
	n := &Negotiator{primary: primary}
	seen := map[string]bool{}
	for _, c := range order {
		if c.Encoding == nil || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		n.candidates = append(n.candidates, c)
	}
	return n
}

// Default returns the negotiator for the host: on Windows UTF-8 is tried before the ANSI code page,
// elsewhere the locale charset is tried before UTF-8. The native encoding is primary on both.
func Default() *Negotiator {
	native := Native()
	if runtime.GOOS == "windows" {
		return New(native, UTF8, native)
	}
	return New(native, native, UTF8)
}

func (n *Negotiator) Primary() Candidate { return n.primary }

func (n *Negotiator) Candidates() []Candidate {
	return append([]Candidate(nil), n.candidates...)
}

// Decode returns the first strict decode that succeeds, or a lossy decode with the primary encoding.
// It never fails.
func (n *Negotiator) Decode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	for _, c := range n.candidates {
		if s, ok := decodeStrict(c, b); ok {
			return s
		}
	}
	return decodeLossy(n.primary, b)
}

// Encode converts text to the primary encoding. Text that the primary encoding cannot represent is an error.
func (n *Negotiator) Encode(s string) ([]byte, error) {
	if isUTF8(n.primary) {
		return []byte(s), nil
	}
	b, err := n.primary.Encoding.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encoding as %s: %w", n.primary.Name, err)
	}
	return b, nil
}

func isUTF8(c Candidate) bool {
	return c.Encoding == unicode.UTF8 || c.Name == UTF8.Name
}

// decodeStrict fails if the input is invalid for c. The x/text decoders substitute U+FFFD instead of failing,
// so a substitution that was not already present in the input is treated as failure.
func decodeStrict(c Candidate, b []byte) (string, bool) {
	if isUTF8(c) {
		if !utf8.Valid(b) {
			return "", false
		}
		return string(b), true
	}
	out, err := c.Encoding.NewDecoder().Bytes(b)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

func decodeLossy(c Candidate, b []byte) string {
	enc := c.Encoding
	if enc == nil {
		enc = unicode.UTF8
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return strings.ToValidUTF8(string(out), string(utf8.RuneError))
}
