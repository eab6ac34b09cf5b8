package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/model"
)

func createTestXLSX(t *testing.T, sheet string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet(sheet)
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sh.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "funders.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestSpreadsheet_Discover(t *testing.T) {
	path := createTestXLSX(t, "Foundations", [][]string{
		{"Funder Name", "EIN", "Website", "Max Award", "Deadline", "Type", "Fit Score", "State"},
		{"Literacy For All Foundation", "131624100", "https://lfa.org", "$25,000", "2026-09-01", "", "82%", "OR"},
		{"Acme Corp Giving", "", "", "10000", "", "corporate", "", ""},
		{"", "", "https://nobody.org", "", "", "", "", ""},
	})
	src := NewSpreadsheet(config.SpreadsheetConfig{Path: path, Sheet: "Foundations"})

	var got []model.CandidateRecord
	var errs []error
	for c, err := range src.Discover(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		got = append(got, c)
	}

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], model.ErrMalformedCandidate)
	assert.ErrorContains(t, errs[0], "record 3")

	require.Len(t, got, 2)
	lfa := got[0]
	assert.Equal(t, "sheet-131624100", lfa.OpportunityID)
	assert.Equal(t, "13-1624100", lfa.EIN)
	assert.Equal(t, model.SourceFoundation, lfa.SourceType)
	assert.Equal(t, int64(25000), *lfa.FundingAmount)
	assert.InDelta(t, 0.82, *lfa.LocalScore, 1e-9)
	assert.Equal(t, "2026-09-01", lfa.ApplicationDeadline)
	require.NotNil(t, lfa.External.Foundation)
	assert.Equal(t, "OR", lfa.External.Foundation.State)

	acme := got[1]
	assert.Equal(t, model.SourceCorporate, acme.SourceType)
	assert.Equal(t, "sheet-acme-corp-giving", acme.OpportunityID)
	assert.Nil(t, acme.External.Foundation)
}

func TestSpreadsheet_RequiresPath(t *testing.T) {
	var errs int
	for _, err := range NewSpreadsheet(config.SpreadsheetConfig{}).Discover(context.Background()) {
		require.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}
