package cmd

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/portal-backup/pkg/config"
	"github.com/paulschiretz/portal-backup/pkg/plog"
)

func TestMain(m *testing.M) {
	logConsole = io.Discard
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// isolate keeps config files and environment of the host out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvConfigFile, "")
	t.Chdir(t.TempDir())
}

func TestRunItems(t *testing.T) {
	isolate(t)
	src := t.TempDir()
	dst := t.TempDir()
	logFile := filepath.Join(t.TempDir(), "portal-backup.log")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "a1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a1", "0123456789abcdef0123456789abcdef"), []byte("item"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a1", "readme.txt"), []byte("skip"), 0644))
	for i := 1; i <= 4; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dst, fmt.Sprintf("items_2024_01_0%d_0300.zip", i)), []byte("old"), 0644))
	}

	err := RunItems(context.Background(), map[string]interface{}{
		"source":      src,
		"destination": dst,
		"retention":   2,
		"log-file":    logFile,
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "items_2024_01_04_0300.zip", entries[0].Name())

	newArchive := filepath.Join(dst, entries[1].Name())
	zr, err := zip.OpenReader(newArchive)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", zr.File[0].Name)

	logged, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "INFO")
	assert.NotContains(t, string(logged), "DEBUG", "the file sink defaults to info")
}

func TestRunItems_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		flags   func(t *testing.T) map[string]interface{}
		wantErr string
	}{
		{
			name:    "Missing source",
			flags:   func(t *testing.T) map[string]interface{} { return map[string]interface{}{"destination": t.TempDir()} },
			wantErr: "source path",
		},
		{
			name: "Zero retention",
			flags: func(t *testing.T) map[string]interface{} {
				return map[string]interface{}{"source": t.TempDir(), "destination": t.TempDir(), "retention": 0}
			},
			wantErr: "retention must be at least 1",
		},
		{
			name: "Unwritable log file",
			flags: func(t *testing.T) map[string]interface{} {
				return map[string]interface{}{
					"source":      t.TempDir(),
					"destination": t.TempDir(),
					"log-file":    filepath.Join(t.TempDir(), "missing", "portal-backup.log"),
				}
			},
			wantErr: "cannot open log file",
		},
		{
			name: "Source does not exist",
			flags: func(t *testing.T) map[string]interface{} {
				return map[string]interface{}{"source": filepath.Join(t.TempDir(), "gone"), "destination": t.TempDir()}
			},
			wantErr: "preflight failed",
		},
		{
			name: "Missing config file",
			flags: func(t *testing.T) map[string]interface{} {
				return map[string]interface{}{"config": filepath.Join(t.TempDir(), "nope.yaml")}
			},
			wantErr: "failed to load configuration",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			err := RunItems(context.Background(), tc.flags(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRunItems_ConfigFile(t *testing.T) {
	isolate(t)
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "ffffffffffffffffffffffffffffffff"), []byte("x"), 0644))

	cfgPath := filepath.Join(t.TempDir(), "portal-backup.yaml")
	content := fmt.Sprintf("items:\n  source: %q\n  destination: %q\n  prefix: nightly_\ncompression:\n  format: tar.gz\n", src, dst)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	require.NoError(t, RunItems(context.Background(), map[string]interface{}{"config": cfgPath}))

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "nightly_"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".tar.gz"))
}

func TestRunPrune(t *testing.T) {
	isolate(t)
	dst := t.TempDir()
	for i := 1; i <= 6; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dst, fmt.Sprintf("items_2024_02_0%d_0300.zip", i)), []byte("old"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dst, "notes.txt"), []byte("keep"), 0644))

	require.NoError(t, RunPrune(context.Background(), map[string]interface{}{
		"destination": dst,
		"retention":   2,
	}))

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"items_2024_02_05_0300.zip", "items_2024_02_06_0300.zip", "notes.txt"}, names)
}

func TestRunPrune_DryRun(t *testing.T) {
	isolate(t)
	dst := t.TempDir()
	for i := 1; i <= 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dst, fmt.Sprintf("items_2024_02_0%d_0300.zip", i)), []byte("old"), 0644))
	}

	logFile := filepath.Join(t.TempDir(), "portal-backup.log")

	require.NoError(t, RunPrune(context.Background(), map[string]interface{}{
		"destination": dst,
		"retention":   1,
		"dry-run":     true,
		"log-file":    logFile,
	}))

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	logged, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "NOTICE   [DRY RUN] No files will be created or deleted")
}

func TestRunReports_Validation(t *testing.T) {
	isolate(t)
	err := RunReports(context.Background(), map[string]interface{}{
		"executable": "er.exe",
		"output-dir": t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config_file")
}

func TestResolvePaths(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Items.Source = "relative/items"
	cfg.Items.Destination = ""

	require.NoError(t, resolvePaths(&cfg))

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "relative", "items"), cfg.Items.Source)
	assert.Empty(t, cfg.Items.Destination)
}

func TestRunPrune_MetricsFile(t *testing.T) {
	isolate(t)
	dst := t.TempDir()
	promFile := filepath.Join(t.TempDir(), "portal_backup_prune.prom")
	for i := 1; i <= 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dst, fmt.Sprintf("items_2024_03_0%d_0300.zip", i)), []byte("old"), 0644))
	}

	require.NoError(t, RunPrune(context.Background(), map[string]interface{}{
		"destination":  dst,
		"retention":    1,
		"metrics-file": promFile,
	}))

	data, err := os.ReadFile(promFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `portal_backup_last_run_success{job_name="prune"} 1`)
	assert.Contains(t, string(data), `portal_backup_archives_pruned{job_name="prune"} 2`)
}
