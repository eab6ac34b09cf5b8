package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `name: Portland Reads
mission: Adult and family literacy across the Portland metro area.
focus_areas: [literacy, adult education, libraries]
geographic_scope: [OR, WA]
ntee_codes: [B60, B92]
government_criteria: [education, humanities]
annual_budget: 1200000
known_grantees:
  - name: Meyer Memorial Trust
    ein: 93-0386859
    grant_amount: 50000
    grant_year: 2024
`

func writeProfile(t *testing.T, dir, id, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(body), 0o644))
}

func TestFileService_Get(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "portland-reads", sampleProfile)
	svc := NewFileService(dir)

	p, err := svc.Get(context.Background(), "portland-reads")
	require.NoError(t, err)
	assert.Equal(t, "portland-reads", p.ID)
	assert.Equal(t, "Portland Reads", p.Name)
	assert.Equal(t, []string{"literacy", "adult education", "libraries"}, p.FocusAreas)
	assert.Equal(t, []string{"OR", "WA"}, p.GeographicScope)
	assert.Equal(t, int64(1200000), p.AnnualBudget)
	require.Len(t, p.KnownGrantees, 1)
	assert.Equal(t, "93-0386859", p.KnownGrantees[0].EIN)
	assert.Equal(t, 2024, p.KnownGrantees[0].GrantYear)
}

func TestFileService_NotFound(t *testing.T) {
	svc := NewFileService(t.TempDir())
	for _, id := range []string{"missing", "../etc/passwd", "", ".."} {
		_, err := svc.Get(context.Background(), id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestFileService_List(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "b-org", sampleProfile)
	writeProfile(t, dir, "a-org", sampleProfile)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	ids, err := NewFileService(dir).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a-org", "b-org"}, ids)

	ids, err = NewFileService(filepath.Join(dir, "none")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestParse(t *testing.T) {
	_, err := Parse("x", []byte("id: y\nmission: m\n"))
	assert.ErrorContains(t, err, `declares id "y"`)

	_, err = Parse("x", []byte("name: no mission\n"))
	assert.ErrorContains(t, err, "no mission")

	_, err = Parse("x", []byte("mission: [unterminated"))
	assert.ErrorContains(t, err, "profile: parse x")

	p, err := Parse("x", []byte("mission: m\n"))
	require.NoError(t, err)
	assert.Equal(t, "x", p.Name)
}
