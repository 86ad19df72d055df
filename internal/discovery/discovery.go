// Package discovery locates dialogue CSV files under a language/category
// directory layout:
//
//	<base>/eng/quest/**.csv
//	<base>/eng/cut_scene/**.csv
//	<base>/jp/quest/**.csv
//	<base>/jp/cut_scene/**.csv
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedLanguage is returned for language tags other than eng/jp.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language is a source-data language directory.
type Language string

const (
	English  Language = "eng"
	Japanese Language = "jp"
)

// Category is a content subdirectory under a language directory.
type Category string

const (
	Quest    Category = "quest"
	Cutscene Category = "cut_scene"
)

// DefaultCategories is the processing order used when none is configured.
var DefaultCategories = []Category{Quest, Cutscene}

// ParseLanguage resolves a language tag case-insensitively.
func ParseLanguage(tag string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case string(English):
		return English, nil
	case string(Japanese):
		return Japanese, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, tag)
	}
}

// Layout is an explicit base-directory configuration. The zero value is not
// usable; construct one with NewLayout.
type Layout struct {
	BaseDir    string
	Categories []Category
}

// NewLayout returns a Layout rooted at baseDir. When categories is empty the
// DefaultCategories are used.
func NewLayout(baseDir string, categories ...Category) Layout {
	if len(categories) == 0 {
		categories = append([]Category(nil), DefaultCategories...)
	}
	return Layout{BaseDir: baseDir, Categories: categories}
}

// Validate checks that BaseDir exists and is a directory.
func (l Layout) Validate() error {
	if strings.TrimSpace(l.BaseDir) == "" {
		return fmt.Errorf("discovery: base directory is empty")
	}
	fi, err := os.Stat(l.BaseDir)
	if err != nil {
		return fmt.Errorf("discovery: base directory: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("discovery: base directory %s is not a directory", l.BaseDir)
	}
	return nil
}

// LanguageDir returns <base>/<lang>.
func (l Layout) LanguageDir(lang Language) string {
	return filepath.Join(l.BaseDir, string(lang))
}

// CategoryDir returns <base>/<lang>/<category>.
func (l Layout) CategoryDir(lang Language, cat Category) string {
	return filepath.Join(l.LanguageDir(lang), string(cat))
}

// Files lists the CSV files of one language and category.
func (l Layout) Files(lang Language, cat Category) ([]string, error) {
	return FindCSV(l.CategoryDir(lang, cat))
}

// LanguageFiles lists the CSV files of every configured category for lang,
// grouped by category in configuration order.
func (l Layout) LanguageFiles(lang Language) (map[Category][]string, error) {
	out := make(map[Category][]string, len(l.Categories))
	for _, c := range l.Categories {
		files, err := l.Files(lang, c)
		if err != nil {
			return nil, err
		}
		out[c] = files
	}
	return out, nil
}

// FindCSV walks root recursively and returns every regular file whose name
// ends in ".csv" (case-sensitive), sorted. A missing root yields no files.
func FindCSV(root string) ([]string, error) {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".csv") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: walk %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}
