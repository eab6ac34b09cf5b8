package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/fetcher"
	"github.com/sells-group/grant-funnel/internal/model"
)

const bmfSample = `EIN,NAME,ICO,STREET,CITY,STATE,ZIP,RULING,FOUNDATION,ASSET_AMT,INCOME_AMT,NTEE_CD
930386859,MEYER MEMORIAL TRUST,,,PORTLAND,OR,97204,198209,04,900000000,120000000,T20
930123456,PORTLAND READS,,,PORTLAND,OR,97201,199501,15,50000,80000,B92
930654321,OREGON COMMUNITY FUND,,,SALEM,OR,97301,200101,03,2000000,300000,T31
530196605,AMERICAN RED CROSS,,,WASHINGTON,DC,20006,193804,15,1,1,P20
12,BROKEN ROW,,,EUGENE,OR,97401,200101,04,0,0,T20
`

func writeBMF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eo_or.csv")
	require.NoError(t, os.WriteFile(path, []byte(bmfSample), 0o644))
	return path
}

func newTestRouter() *fetcher.Router {
	return fetcher.NewRouter(testFetcher(), fetcher.NewFTPFetcher(fetcher.FTPOptions{}))
}

func TestBMF_FiltersByStateAndNTEE(t *testing.T) {
	src := NewBMF(config.BMFConfig{URL: writeBMF(t), States: []string{"or"}, NTEEPrefixes: []string{"t"}}, newTestRouter())

	got := drain(t, src)
	require.Len(t, got, 2)

	assert.Equal(t, "irs-bmf-930386859", got[0].OpportunityID)
	assert.Equal(t, "93-0386859", got[0].EIN)
	assert.Equal(t, model.SourceFoundation, got[0].SourceType)
	assert.Equal(t, SourceBMF, got[0].DiscoverySource)
	require.NotNil(t, got[0].External.Foundation)
	assert.Equal(t, 1982, got[0].External.Foundation.RulingYear)
	assert.Equal(t, int64(900000000), got[0].External.Foundation.AssetAmount)
	assert.Equal(t, "OREGON COMMUNITY FUND", got[1].OrganizationName)
}

func TestBMF_NonFoundationIsNonprofit(t *testing.T) {
	src := NewBMF(config.BMFConfig{URL: writeBMF(t), NTEEPrefixes: []string{"B"}}, newTestRouter())
	got := drain(t, src)
	require.Len(t, got, 1)
	assert.Equal(t, model.SourceNonprofit, got[0].SourceType)
}

func TestBMF_Limit(t *testing.T) {
	src := NewBMF(config.BMFConfig{URL: writeBMF(t), Limit: 3}, newTestRouter())
	assert.Len(t, drain(t, src), 3)
}

func TestBMF_DownloadFailure(t *testing.T) {
	src := NewBMF(config.BMFConfig{URL: filepath.Join(t.TempDir(), "missing.csv")}, newTestRouter())
	var errs int
	for _, err := range src.Discover(context.Background()) {
		require.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}
