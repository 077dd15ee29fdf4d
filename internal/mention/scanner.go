// Package mention finds monetary amounts in free text.
package mention

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"moneyman/internal/model"
)

const amountPattern = `(\d+(?:\.\d{1,2})?)`

// boundary says which side of a match must not touch a word character.
type boundary int

const (
	boundaryNone boundary = iota
	boundaryBefore
	boundaryAfter
)

// family is one of the four mention shapes. currencyGroup and amountGroup
// are submatch indexes.
type family struct {
	re            *regexp.Regexp
	currencyGroup int
	amountGroup   int
	boundary      boundary
}

// builtinSymbols are always matched, even when the table lacks them.
var builtinSymbols = []string{"£", "€", "$", "₹"}

// prefixOnly symbols are not recognised after an amount.
var prefixOnly = map[string]bool{"£": true}

var codeFamilies = []family{
	// GBP 12.34
	{re: regexp.MustCompile(`([a-zA-Z]{3})\s?` + amountPattern), currencyGroup: 1, amountGroup: 2, boundary: boundaryBefore},
	// 12.34 GBP
	{re: regexp.MustCompile(amountPattern + `\s?([a-zA-Z]{3})`), currencyGroup: 2, amountGroup: 1, boundary: boundaryAfter},
}

// Scanner extracts currency mentions using a symbol-to-code table.
type Scanner struct {
	symbols  map[string]string
	families []family
}

// NewScanner creates a Scanner. symbols maps a glyph such as "£" to a code;
// every glyph in it is matched before or after an amount.
func NewScanner(symbols map[string]string) *Scanner {
	glyphs := append([]string(nil), builtinSymbols...)
	for sym := range symbols {
		glyphs = append(glyphs, sym)
	}
	glyphs = lo.Uniq(lo.Compact(glyphs))
	// Longest first, so "R$" wins over "$".
	sort.Slice(glyphs, func(a, b int) bool {
		if len(glyphs[a]) != len(glyphs[b]) {
			return len(glyphs[a]) > len(glyphs[b])
		}
		return glyphs[a] < glyphs[b]
	})

	var prefix, suffix []string
	for _, g := range glyphs {
		quoted := regexp.QuoteMeta(g)
		prefix = append(prefix, quoted)
		if !prefixOnly[g] {
			suffix = append(suffix, quoted)
		}
	}

	families := []family{
		// £12.34, $ 5
		{re: regexp.MustCompile(`(` + strings.Join(prefix, "|") + `)\s?` + amountPattern), currencyGroup: 1, amountGroup: 2},
		// 12.34€, 5 $
		{re: regexp.MustCompile(amountPattern + `\s?(` + strings.Join(suffix, "|") + `)`), currencyGroup: 2, amountGroup: 1},
	}
	return &Scanner{symbols: symbols, families: append(families, codeFamilies...)}
}

type rawMatch struct {
	pos     int
	family  int
	mention model.Mention
}

// Scan returns the mentions in text ordered by position, without duplicates,
// keeping only codes that are in known and not in ignored.
func (s *Scanner) Scan(text string, known, ignored map[string]struct{}) []model.Mention {
	if text == "" {
		return nil
	}

	var raw []rawMatch
	for i, f := range s.families {
		for _, m := range findAll(f, text) {
			amount, err := decimal.NewFromString(text[m[2*f.amountGroup]:m[2*f.amountGroup+1]])
			if err != nil {
				continue
			}
			code := s.resolve(text[m[2*f.currencyGroup]:m[2*f.currencyGroup+1]])
			raw = append(raw, rawMatch{
				pos:     m[0],
				family:  i,
				mention: model.Mention{Code: code, Amount: amount},
			})
		}
	}

	sort.SliceStable(raw, func(a, b int) bool {
		if raw[a].pos != raw[b].pos {
			return raw[a].pos < raw[b].pos
		}
		return raw[a].family < raw[b].family
	})

	seen := make(map[string]struct{}, len(raw))
	var out []model.Mention
	for _, r := range raw {
		key := r.mention.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if _, ok := known[r.mention.Code]; !ok {
			continue
		}
		if _, skip := ignored[r.mention.Code]; skip {
			continue
		}
		out = append(out, r.mention)
	}
	return out
}

func (s *Scanner) resolve(currency string) string {
	if code, ok := s.symbols[currency]; ok {
		return code
	}
	return strings.ToUpper(currency)
}

// findAll behaves like FindAllStringSubmatchIndex but enforces the family's
// word boundary. A rejected candidate is retried one rune later, as a
// backtracking engine with lookaround would.
func findAll(f family, text string) [][]int {
	var out [][]int
	pos := 0
	for pos < len(text) {
		loc := f.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += pos
			}
		}

		if !boundaryOK(f.boundary, text, loc[0], loc[1]) {
			_, size := utf8.DecodeRuneInString(text[loc[0]:])
			pos = loc[0] + size
			continue
		}
		out = append(out, loc)
		pos = loc[1]
	}
	return out
}

func boundaryOK(b boundary, text string, start, end int) bool {
	switch b {
	case boundaryBefore:
		if start == 0 {
			return true
		}
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		return !isWord(r)
	case boundaryAfter:
		if end == len(text) {
			return true
		}
		r, _ := utf8.DecodeRuneInString(text[end:])
		return !isWord(r)
	default:
		return true
	}
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
