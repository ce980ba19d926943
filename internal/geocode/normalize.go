package geocode

import (
	"strings"
	"unicode"
)

// suffix expansions applied during normalization so "St" and "Street" compare
// equal.
var streetSuffixes = map[string]string{
	"st":   "street",
	"ave":  "avenue",
	"rd":   "road",
	"blvd": "boulevard",
	"dr":   "drive",
	"ln":   "lane",
	"ct":   "court",
	"pl":   "place",
	"hwy":  "highway",
}

// NormalizeAddress canonicalizes an address for comparison: lower-case,
// punctuation stripped, whitespace collapsed, street suffixes expanded.
func NormalizeAddress(addr string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(addr) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == ',' || r == '.' || r == '-' || r == '/':
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	for i, f := range fields {
		if full, ok := streetSuffixes[f]; ok {
			fields[i] = full
		}
	}
	return strings.Join(fields, " ")
}

// Similar reports whether two normalized addresses plausibly describe the
// same place: every numeric token of a must appear in b, and at least half of
// a's word tokens must appear in b.
func Similar(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	bTokens := map[string]bool{}
	for _, t := range strings.Fields(b) {
		bTokens[t] = true
	}

	var words, wordHits int
	for _, t := range strings.Fields(a) {
		numeric := true
		for _, r := range t {
			if !unicode.IsDigit(r) {
				numeric = false
				break
			}
		}
		if numeric {
			if !bTokens[t] {
				return false
			}
			continue
		}
		words++
		if bTokens[t] {
			wordHits++
		}
	}
	if words == 0 {
		return true
	}
	return wordHits*2 >= words
}
