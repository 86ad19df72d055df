// Package script classifies cell text by writing system.
//
// Only one heuristic is supported: "does this value contain Japanese script".
// It is intentionally narrow. Kana and CJK ideographs count; CJK punctuation,
// fullwidth forms and everything else do not.
package script

import (
	"regexp"
	"strings"
)

// Placeholder marks a dialogue line as unused / scheduled for deletion.
// It is written in Japanese in both language variants of the data, so it
// must be removed before classification.
const Placeholder = "（★未使用／削除予定★）"

// japanesePattern matches Hiragana, Katakana (U+3040–U+30FF) and
// CJK Unified Ideographs (U+4E00–U+9FFF).
var japanesePattern = regexp.MustCompile(`[\x{3040}-\x{30FF}\x{4E00}-\x{9FFF}]`)

// StripPlaceholder removes every occurrence of Placeholder from s.
func StripPlaceholder(s string) string {
	return strings.ReplaceAll(s, Placeholder, "")
}

// ContainsJapanese reports whether v is text containing at least one
// qualifying Japanese code point once the placeholder marker is removed.
//
// Classification is total: values that are not text (nil, numbers, NaN
// floats, nil pointers) are never Japanese.
func ContainsJapanese(v any) bool {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case *string:
		if t == nil {
			return false
		}
		s = *t
	default:
		return false
	}
	return japanesePattern.MatchString(StripPlaceholder(s))
}

// QualifyingIndexes returns the indexes of cells that contain Japanese,
// preserving input order. The result is nil when no cell qualifies.
func QualifyingIndexes(cells []any) []int {
	var out []int
	for i, c := range cells {
		if ContainsJapanese(c) {
			out = append(out, i)
		}
	}
	return out
}
