package naming

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemsArchiveName(t *testing.T) {
	ts := time.Date(2025, 6, 27, 14, 47, 59, 0, time.UTC)
	assert.Equal(t, "items_2025_06_27_1447", ItemsArchiveName(DefaultItemsPrefix, ts))

	early := time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC)
	assert.Equal(t, "items_2025_01_02_0304", ItemsArchiveName(DefaultItemsPrefix, early))
}

func TestItemsArchiveNamesSortChronologically(t *testing.T) {
	base := time.Date(2024, 12, 31, 23, 58, 0, 0, time.UTC)
	var names []string
	for i := range 5 {
		names = append(names, ItemsArchiveName(DefaultItemsPrefix, base.Add(time.Duration(i)*time.Minute)))
	}

	for i := 1; i < len(names); i++ {
		assert.NotEqual(t, names[i-1], names[i], "names one minute apart must differ")
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	assert.Equal(t, names, sorted)
}

func TestReportArchiveName(t *testing.T) {
	ts := time.Date(2025, 6, 27, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		fileName string
		want     string
		wantErr  error
	}{
		{
			name:     "marker in the middle",
			fileName: "gisprod_enterprise_portal_users.xlsx",
			want:     "gisprod_enterprise_portal_20250627",
		},
		{
			name:     "marker as last token before extension",
			fileName: "gisprod_portal.log",
			want:     "gisprod_portal_20250627",
		},
		{
			name:     "first marker wins",
			fileName: "a_portal_b_portal_items.xlsx",
			want:     "a_portal_20250627",
		},
		{
			name:     "marker missing",
			fileName: "gisprod_server_report.xlsx",
			wantErr:  ErrMarkerNotFound,
		},
		{
			name:     "marker must be a whole token",
			fileName: "gisprod_portals_report.xlsx",
			wantErr:  ErrMarkerNotFound,
		},
		{
			name:     "marker without prefix",
			fileName: "portal_users.xlsx",
			wantErr:  ErrEmptyPrefix,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReportArchiveName(tt.fileName, DefaultMarker, ts)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindReportBaseName(t *testing.T) {
	ts := time.Date(2025, 6, 27, 8, 0, 0, 0, time.UTC)
	reservedZip := func(name string) bool { return strings.HasSuffix(name, ".zip") }

	write := func(t *testing.T, dir string, names ...string) {
		t.Helper()
		for _, n := range names {
			require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0644))
		}
	}

	t.Run("derives name from first qualifying file", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "aaa_old_portal_20250101.zip", "gisprod_portal_items.xlsx", "gisprod_portal_users.xlsx", "notes.txt")

		name, src, err := FindReportBaseName(dir, DefaultMarker, ts, reservedZip)
		require.NoError(t, err)
		assert.Equal(t, "gisprod_portal_20250627", name)
		assert.Equal(t, "gisprod_portal_items.xlsx", src)
	})

	t.Run("skips files without the marker", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "a_readme.txt", "gisprod_portal_users.xlsx")

		name, src, err := FindReportBaseName(dir, DefaultMarker, ts, reservedZip)
		require.NoError(t, err)
		assert.Equal(t, "gisprod_portal_20250627", name)
		assert.Equal(t, "gisprod_portal_users.xlsx", src)
	})

	t.Run("ignores directories", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "gisprod_portal_sub"), 0755))

		_, _, err := FindReportBaseName(dir, DefaultMarker, ts, reservedZip)
		assert.ErrorIs(t, err, ErrNoReportFiles)
	})

	t.Run("only reserved files", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "gisprod_portal_20250101.zip")

		_, _, err := FindReportBaseName(dir, DefaultMarker, ts, reservedZip)
		assert.ErrorIs(t, err, ErrNoReportFiles)
	})

	t.Run("no file carries the marker", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "report.xlsx", "run.log")

		_, _, err := FindReportBaseName(dir, DefaultMarker, ts, reservedZip)
		assert.ErrorIs(t, err, ErrMarkerNotFound)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, _, err := FindReportBaseName(filepath.Join(t.TempDir(), "nope"), DefaultMarker, ts, nil)
		assert.Error(t, err)
	})
}

func TestEnsureAvailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items_2025_06_27_1447.zip")

	require.NoError(t, EnsureAvailable(path))

	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.ErrorIs(t, EnsureAvailable(path), ErrArchiveExists)
}

func TestReportRetentionPrefix(t *testing.T) {
	ts := time.Date(2025, 6, 27, 0, 0, 0, 0, time.UTC)
	name, err := ReportArchiveName("gisprod_enterprise_portal_users.xlsx", DefaultMarker, ts)
	require.NoError(t, err)

	prefix := ReportRetentionPrefix(name)
	assert.Equal(t, "gisprod_enterprise_portal_", prefix)
	assert.True(t, strings.HasPrefix(name, prefix))
	assert.Equal(t, "nounderscore", ReportRetentionPrefix("nounderscore"))
}
