package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// CSVRows yields each row of r. A malformed row yields a *csv.ParseError
// and reading continues; any other error ends the sequence.
func CSVRows(ctx context.Context, r io.Reader, opts CSVOptions) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, eris.Wrap(err, "csv: context cancelled"))
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				if !yield(nil, eris.Wrap(err, "csv: parse row")) {
					return
				}
				continue
			}
			if err != nil {
				yield(nil, eris.Wrap(err, "csv: read row"))
				return
			}
			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}

// CSVRecords yields rows keyed by the normalized header of the first row.
// Missing trailing cells map to "".
func CSVRecords(ctx context.Context, r io.Reader, opts CSVOptions) iter.Seq2[map[string]string, error] {
	return keyed(CSVRows(ctx, r, opts))
}

func keyed(rows iter.Seq2[[]string, error]) iter.Seq2[map[string]string, error] {
	return func(yield func(map[string]string, error) bool) {
		var header []string
		for row, err := range rows {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if header == nil {
				header = make([]string, len(row))
				for i, h := range row {
					header[i] = HeaderKey(h)
				}
				continue
			}
			if blank(row) {
				continue
			}
			rec := make(map[string]string, len(header))
			for i, h := range header {
				if h == "" {
					continue
				}
				if i < len(row) {
					rec[h] = row[i]
				} else {
					rec[h] = ""
				}
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// HeaderKey normalizes a column header: trimmed, lower case, with runs of
// spaces and dashes replaced by one underscore.
func HeaderKey(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
