// Package source decodes raw delimited text files into header and rows.
//
// Encoding and delimiter detection is an explicit, ordered list of dialects
// tried in fixed order. The first dialect that decodes the bytes and splits the
// header into at least two columns wins, and the result records which one it
// was. There is no per-row guessing.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding names a character encoding a source file may use.
type Encoding string

const (
	UTF8   Encoding = "utf-8"
	Latin1 Encoding = "latin-1"
)

// Dialect is one (encoding, delimiter) pair to attempt.
type Dialect struct {
	Encoding  Encoding `json:"encoding"`
	Delimiter rune     `json:"delimiter"`
}

func (d Dialect) String() string {
	return fmt.Sprintf("%s/%q", d.Encoding, d.Delimiter)
}

// DefaultDialects is the fixed priority list: UTF-8 before Latin-1, ';'
// before ','.
var DefaultDialects = []Dialect{
	{Encoding: UTF8, Delimiter: ';'},
	{Encoding: UTF8, Delimiter: ','},
	{Encoding: Latin1, Delimiter: ';'},
	{Encoding: Latin1, Delimiter: ','},
}

// minHeaderColumns is the column count below which a delimiter is considered
// wrong for the file.
const minHeaderColumns = 2

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decoded is the result of a successful decode.
type Decoded struct {
	Dialect Dialect
	Header  []string
	Rows    [][]string

	// SkippedLines counts rows dropped for a wrong field count or malformed
	// quoting.
	SkippedLines int
}

// Attempt records why one dialect was rejected.
type Attempt struct {
	Dialect Dialect
	Reason  string
}

// EncodingError is returned when no dialect in the list could decode a file.
type EncodingError struct {
	Path     string
	Attempts []Attempt
}

func (e *EncodingError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %s", a.Dialect, a.Reason)
	}
	return fmt.Sprintf("cannot decode %s under any dialect (%s)", e.Path, strings.Join(parts, "; "))
}

// IsEncodingError reports whether err is, or wraps, an *EncodingError.
func IsEncodingError(err error) bool {
	var ee *EncodingError
	return errors.As(err, &ee)
}

// ReadFile reads path and decodes it with the given dialects. A nil or empty
// dialect list means DefaultDialects.
func ReadFile(path string, dialects []Dialect) (*Decoded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return Decode(path, data, dialects)
}

// Decode tries each dialect in order against data. name is used only in
// error messages.
func Decode(name string, data []byte, dialects []Dialect) (*Decoded, error) {
	if len(dialects) == 0 {
		dialects = DefaultDialects
	}

	var attempts []Attempt
	for _, d := range dialects {
		text, err := decodeText(data, d.Encoding)
		if err != nil {
			attempts = append(attempts, Attempt{Dialect: d, Reason: err.Error()})
			continue
		}

		decoded, err := parse(text, d)
		if err != nil {
			attempts = append(attempts, Attempt{Dialect: d, Reason: err.Error()})
			continue
		}
		return decoded, nil
	}

	return nil, &EncodingError{Path: name, Attempts: attempts}
}

// decodeText converts data to a UTF-8 string under enc.
func decodeText(data []byte, enc Encoding) (string, error) {
	switch enc {
	case UTF8:
		data = bytes.TrimPrefix(data, utf8BOM)
		if !utf8.Valid(data) {
			return "", errors.New("invalid utf-8 byte sequence")
		}
		return string(data), nil
	case Latin1:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(bytes.TrimPrefix(data, utf8BOM))
		if err != nil {
			return "", fmt.Errorf("latin-1 decode: %w", err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", enc)
	}
}

// parse splits text with the dialect's delimiter. Rows whose field count
// differs from the header are skipped and counted.
func parse(text string, d Dialect) (*Decoded, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = d.Delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < minHeaderColumns {
		return nil, fmt.Errorf("header has %d column(s)", len(header))
	}

	out := &Decoded{Dialect: d, Header: header, Rows: [][]string{}}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				out.SkippedLines++
				continue
			}
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(row) != len(header) {
			if isBlank(row) {
				continue
			}
			out.SkippedLines++
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
