// Package fingerprint computes 64-bit SimHash values of captured documents so
// callers can tell whether two captures of a page differ without diffing the
// bodies.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"math/bits"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// shingleSize is the number of consecutive tags hashed together for the
// structural fingerprint.
const shingleSize = 3

// Pair holds the two fingerprints of one document.
type Pair struct {
	// Body is the SimHash of the visible text.
	Body uint64
	// DOM is the SimHash of tag-name shingles, ignoring text and attributes.
	DOM uint64
}

// Of tokenizes doc once and fingerprints its text and its structure.
func Of(doc string) Pair {
	words, tags := scan(doc)
	return Pair{
		Body: simhash(words),
		DOM:  simhash(shingles(tags, shingleSize)),
	}
}

// Text fingerprints free text split on whitespace. Case is ignored.
func Text(s string) uint64 {
	return simhash(strings.Fields(strings.ToLower(s)))
}

// simhash folds the FNV-64a hash of every token into a 64-bit signature.
// Repeated tokens weigh more.
func simhash(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}

	var vector [64]int
	h := fnv.New64a()
	for _, tok := range tokens {
		h.Reset()
		h.Write([]byte(tok))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var out uint64
	for i, v := range vector {
		if v > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// scan walks doc with the tokenizer, collecting lower-cased words of text
// outside script/style and the names of opened tags in order.
func scan(doc string) (words, tags []string) {
	z := html.NewTokenizer(strings.NewReader(doc))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return words, tags
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			tags = append(tags, tag)
			if tag == "script" || tag == "style" {
				skip++
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			tags = append(tags, string(name))
		case html.EndTagToken:
			name, _ := z.TagName()
			if t := string(name); (t == "script" || t == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				words = append(words, strings.Fields(strings.ToLower(string(z.Text())))...)
			}
		}
	}
}

// shingles joins every run of n consecutive tokens. Fewer than n tokens are
// returned as a single shingle so tiny documents still fingerprint.
func shingles(tokens []string, n int) []string {
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) < n {
		return []string{strings.Join(tokens, "_")}
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i <= len(tokens)-n; i++ {
		out = append(out, strings.Join(tokens[i:i+n], "_"))
	}
	return out
}

// Hex renders a fingerprint as 16 lower-case hex digits.
func Hex(v uint64) string {
	return fmt.Sprintf("%016x", v)
}

// ParseHex is the inverse of Hex.
func ParseHex(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("fingerprint: parse %q: %w", s, err)
	}
	return v, nil
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether a and b are at most threshold bits apart.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}
