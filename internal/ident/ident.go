// Package ident maps arbitrary CSV column labels and file names to relational
// identifiers.
//
// Three forms exist for a column:
//
//	label      raw header text as it appears in the CSV ("key", "0", "Text")
//	canonical  the persisted column name ("_key", "_0", "_Text")
//	storage    canonical without its sanitizing underscore, quoted when purely
//	           numeric ("key", `"0"`, "Text")
//
// Shadow columns for a secondary language are derived from the storage form.
package ident

import (
	"path/filepath"
	"strings"
	"unicode"
)

// ShadowSuffix is appended to the bare name of a shadow column.
const ShadowSuffix = "_JP"

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Canonical converts a column label to the canonical identifier.
//
//   - a leading letter or digit gets an underscore prefix
//   - every remaining non-word rune becomes '_'
//
// After the prefix step the first rune is never a digit, so no second
// digit rule is needed.
//
// Canonical is total and idempotent: Canonical(Canonical(x)) == Canonical(x).
func Canonical(label string) string {
	if label == "" {
		return ""
	}
	runes := []rune(label)
	if isAlnum(runes[0]) {
		runes = append([]rune{'_'}, runes...)
	}
	for i, r := range runes {
		if !isWord(r) {
			runes[i] = '_'
		}
	}
	return string(runes)
}

// Storage strips exactly one leading underscore from a canonical identifier
// and double-quotes the result when it is made only of digits.
func Storage(canonical string) string {
	bare := strings.TrimPrefix(canonical, "_")
	if isAllDigits(bare) {
		return `"` + bare + `"`
	}
	return bare
}

// Bare returns the storage form with any quoting removed.
func Bare(canonical string) string {
	return strings.Trim(Storage(canonical), `"`)
}

// Shadow returns the shadow column name for a canonical column:
// "_{bare}_JP".
func Shadow(canonical string) string {
	return "_" + Bare(canonical) + ShadowSuffix
}

// CanonicalAll maps Canonical over labels.
func CanonicalAll(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = Canonical(l)
	}
	return out
}

// Table derives a table name from a source file path: the base name without
// its extension ("quest/000/ClsArc000_00021.csv" -> "ClsArc000_00021").
func Table(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
