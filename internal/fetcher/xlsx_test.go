package fetcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestXLSXRecords(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Foundations": {
			{"Funder Name", "EIN", "Max Award"},
			{"Literacy For All", "13-1624100", "25000"},
			{"", "", ""},
			{"Reading Is Fundamental", "", "10000"},
		},
	})

	var recs []map[string]string
	for rec, err := range XLSXRecords(context.Background(), path, XLSXOptions{SheetName: "Foundations"}) {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.Len(t, recs, 2)
	assert.Equal(t, "Literacy For All", recs[0]["funder_name"])
	assert.Equal(t, "25000", recs[0]["max_award"])
	assert.Equal(t, "Reading Is Fundamental", recs[1]["funder_name"])
}

func collectXLSXErrors(path string, opts XLSXOptions) []error {
	var errs []error
	for _, err := range XLSXRecords(context.Background(), path, opts) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func TestXLSXRecords_MissingSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	errs := collectXLSXErrors(path, XLSXOptions{SheetName: "Nope"})
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], `sheet "Nope" not found`)

	errs = collectXLSXErrors(path, XLSXOptions{SheetIndex: 3})
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "out of range")
}

func TestXLSXRecords_MissingFile(t *testing.T) {
	errs := collectXLSXErrors(filepath.Join(t.TempDir(), "none.xlsx"), XLSXOptions{})
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "xlsx: open file")
}
