package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate canonicalizes a license plate string for lookup: upper-case,
// full-width digits and letters folded to ASCII, whitespace and punctuation
// removed. Kanji and kana plate components are kept as-is. Idempotent.
func NormalizePlate(raw string) string {
	folded := strings.Map(foldWidth, raw)
	folded = strings.ToUpper(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == 'ー' || r == '−':
			// long vowel mark and full-width minus show up in OCR output
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldWidth maps full-width forms (U+FF01..U+FF5E) to their ASCII
// counterparts and the ideographic space to a plain space.
func foldWidth(r rune) rune {
	switch {
	case r >= '！' && r <= '～':
		return r - 0xFEE0
	case r == '　':
		return ' '
	}
	return r
}
