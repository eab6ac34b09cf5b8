package fetcher

import (
	"context"
	"iter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects a worksheet.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// XLSXRecords yields the sheet's rows keyed by the normalized header of
// its first row. Blank rows are skipped.
func XLSXRecords(ctx context.Context, path string, opts XLSXOptions) iter.Seq2[map[string]string, error] {
	return keyed(func(yield func([]string, error) bool) {
		sheet, err := openSheet(path, opts)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, row := range sheet.Rows {
			if err := ctx.Err(); err != nil {
				yield(nil, eris.Wrap(err, "xlsx: context cancelled"))
				return
			}
			if !yield(rowToStrings(row), nil) {
				return
			}
		}
	})
}

func openSheet(path string, opts XLSXOptions) (*xlsx.Sheet, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
