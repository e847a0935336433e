// Package csvx streams and validates product image CSV files.
//
// A file starts with a header record naming at least the "Serial Number",
// "Product Name" and "Input Image Urls" columns. Every following record is a
// data row. Rows are read one at a time, so memory use does not depend on the
// size of the file.
package csvx

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"os"
	"strings"

	"github.com/dmitrijs2005/pixelriver/internal/common"
)

const (
	ColumnSerialNumber = "Serial Number"
	ColumnProductName  = "Product Name"
	ColumnImageURLs    = "Input Image Urls"
)

const bom = "\ufeff"

// ErrNoDataRows is returned for empty and header-only files.
var ErrNoDataRows = fmt.Errorf("%w: at least one row required", common.ErrorValidation)

// Row is one validated data row.
type Row struct {
	// Number is the 1-based position of the row after the header.
	Number       int
	SerialNumber string
	ProductName  string
	ImageURLs    []string
}

// Result summarizes a successfully validated file.
type Result struct {
	Rows      int
	ImageURLs int
}

// RowError describes the first row that failed validation.
type RowError struct {
	Row    int
	Field  string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

func (e *RowError) Unwrap() error {
	return common.ErrorValidation
}

// Rows returns a lazy sequence over the data rows of the file at path. The
// sequence stops at the first error. The file is opened on first iteration
// and closed when iteration ends.
func Rows(path string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(Row{}, fmt.Errorf("open csv: %w", err))
			return
		}
		defer f.Close()

		for row, err := range Parse(f) {
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

// Parse is Rows over an already open reader.
func Parse(r io.Reader) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.ReuseRecord = true

		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(Row{}, readError(err))
			return
		}
		cols := indexHeader(header)

		for n := 1; ; n++ {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Row{}, readError(err))
				return
			}

			row, err := validateRecord(n, cols, rec)
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

// Validate reads the whole file at path and reports the first invalid row.
// The file is left in place.
func Validate(path string) (Result, error) {
	var res Result
	for row, err := range Rows(path) {
		if err != nil {
			return Result{}, err
		}
		res.Rows++
		res.ImageURLs += len(row.ImageURLs)
	}
	if res.Rows == 0 {
		return Result{}, ErrNoDataRows
	}
	return res, nil
}

func indexHeader(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, bom)
		}
		h = strings.TrimSpace(h)
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	return cols
}

func field(cols map[string]int, rec []string, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func validateRecord(n int, cols map[string]int, rec []string) (Row, error) {
	row := Row{
		Number:       n,
		SerialNumber: field(cols, rec, ColumnSerialNumber),
		ProductName:  field(cols, rec, ColumnProductName),
	}
	if row.SerialNumber == "" {
		return Row{}, required(n, ColumnSerialNumber)
	}
	if row.ProductName == "" {
		return Row{}, required(n, ColumnProductName)
	}

	raw := field(cols, rec, ColumnImageURLs)
	if raw == "" {
		return Row{}, required(n, ColumnImageURLs)
	}

	tokens := strings.Split(raw, ",")
	row.ImageURLs = make([]string, 0, len(tokens))
	for _, tok := range tokens {
		u := strings.TrimSpace(tok)
		if !isAbsoluteURL(u) {
			return Row{}, &RowError{
				Row:    n,
				Field:  ColumnImageURLs,
				Reason: fmt.Sprintf("Invalid Image Url: %s", tok),
			}
		}
		row.ImageURLs = append(row.ImageURLs, u)
	}
	return row, nil
}

func required(n int, col string) *RowError {
	return &RowError{Row: n, Field: col, Reason: col + " is required"}
}

// isAbsoluteURL accepts any URL with a scheme and something after it, so
// file:///x.jpg and data: URLs pass while "http://" alone does not.
func isAbsoluteURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	return u.Host != "" || u.Opaque != "" || u.Path != ""
}

// readError classifies malformed CSV as a validation failure. Anything else
// is an I/O problem and is returned as is.
func readError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w: malformed csv at line %d: %v", common.ErrorValidation, pe.Line, pe.Err)
	}
	return fmt.Errorf("read csv: %w", err)
}
