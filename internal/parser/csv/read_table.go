// Package csv parses dialogue CSV files into tabular.Source values.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"dialogdb/internal/tabular"
)

// Supported source encodings.
const (
	EncodingUTF8     = "utf-8"
	EncodingShiftJIS = "shift_jis"
	EncodingUTF16    = "utf-16"
)

// Options controls how a file is decoded and split.
type Options struct {
	// Encoding is one of the Encoding* constants. Empty means utf-8.
	// A byte-order mark always wins over the configured encoding.
	Encoding string

	// Comma is the field delimiter. Zero means ','.
	Comma rune

	// LazyQuotes tolerates bare quotes inside unquoted fields.
	LazyQuotes bool

	// TrimSpace trims cell values. Off by default: leading and trailing
	// whitespace is part of dialogue text.
	TrimSpace bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{Encoding: EncodingUTF8, Comma: ',', LazyQuotes: true}
}

// decoderFor resolves an Options.Encoding value to an x/text encoding.
func decoderFor(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingUTF8, "utf8":
		return unicode.UTF8, nil
	case EncodingShiftJIS, "sjis", "shift-jis", "cp932":
		return japanese.ShiftJIS, nil
	case EncodingUTF16, "utf16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", name)
	}
}

// SupportedEncoding reports whether name is an encoding Read understands.
func SupportedEncoding(name string) bool {
	_, err := decoderFor(name)
	return err == nil
}

// NewDecodingReader wraps r so that it yields UTF-8 in the configured
// encoding. A UTF-8 or UTF-16 BOM overrides the configured encoding.
func NewDecodingReader(r io.Reader, enc string) (io.Reader, error) {
	e, err := decoderFor(enc)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, unicode.BOMOverride(e.NewDecoder())), nil
}

// ReadFile opens path and parses it with Read.
func ReadFile(path string, opt Options) (*tabular.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, path, opt)
}

// Read parses a whole CSV document. The first record is the header.
//
// Header labels follow the usual dataframe conventions: a blank label
// becomes "Unnamed: <i>" and a repeated label gets a ".<n>" suffix.
// Records shorter than the header are padded with nil cells; longer records
// are an error. Empty cells are nil.
func Read(src io.Reader, name string, opt Options) (*tabular.Source, error) {
	r, err := NewDecodingReader(src, opt.Encoding)
	if err != nil {
		return nil, err
	}

	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	line := 0
	hdr, err := cr.Read()
	line++
	if err == io.EOF {
		return nil, fmt.Errorf("csv: %s: empty file", name)
	}
	if err != nil {
		return nil, fmt.Errorf("csv: %s: read header: %w", name, err)
	}
	columns := normalizeHeader(hdr)

	var rows []tabular.Row
	for {
		rec, err := cr.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %s: line %d: %w", name, line, err)
		}
		if len(rec) > len(columns) {
			return nil, fmt.Errorf("csv: %s: line %d: expected %d fields, saw %d", name, line, len(columns), len(rec))
		}

		row := make(tabular.Row, len(columns))
		for i := range columns {
			if i >= len(rec) {
				continue
			}
			v := rec[i]
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[i] = v
			}
		}
		rows = append(rows, row)
	}

	return tabular.New(name, columns, rows)
}

// normalizeHeader strips a stray BOM from the first label, names blank
// labels and de-duplicates repeated ones.
func normalizeHeader(hdr []string) []string {
	out := make([]string, len(hdr))
	seen := make(map[string]int, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if strings.TrimSpace(h) == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		base := h
		if n := seen[base]; n > 0 {
			for {
				h = base + "." + strconv.Itoa(n)
				if seen[h] == 0 {
					break
				}
				n++
			}
			seen[h]++
		}
		seen[base]++
		out[i] = h
	}
	return out
}
