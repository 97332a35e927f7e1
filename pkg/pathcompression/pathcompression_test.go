package pathcompression_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/paulschiretz/portal-backup/pkg/hints"
	"github.com/paulschiretz/portal-backup/pkg/metrics"
	"github.com/paulschiretz/portal-backup/pkg/pathcompression"
	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/util"
)

func newTestCompressor(t *testing.T, m metrics.Metrics) *pathcompression.PathCompressor {
	t.Helper()
	return pathcompression.NewPathCompressor(4, plog.Default(), m)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), util.UserWritableFilePerms); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

// readArchive returns the entries of an archive keyed by name.
func readArchive(t *testing.T, path string, format pathcompression.Format) map[string]string {
	t.Helper()
	out := make(map[string]string)

	if format == pathcompression.Zip {
		zr, err := zip.OpenReader(path)
		if err != nil {
			t.Fatalf("failed to open zip %s: %v", path, err)
		}
		defer zr.Close()
		for _, f := range zr.File {
			rc, err := f.Open()
			if err != nil {
				t.Fatalf("failed to open zip entry %s: %v", f.Name, err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatalf("failed to read zip entry %s: %v", f.Name, err)
			}
			out[f.Name] = string(data)
		}
		return out
	}

	raw, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer raw.Close()

	var r io.Reader
	switch format {
	case pathcompression.TarGz:
		gr, err := gzip.NewReader(raw)
		if err != nil {
			t.Fatalf("failed to open gzip stream: %v", err)
		}
		defer gr.Close()
		r = gr
	case pathcompression.TarZst:
		zr, err := zstd.NewReader(raw)
		if err != nil {
			t.Fatalf("failed to open zstd stream: %v", err)
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read tar entry: %v", err)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			t.Fatalf("failed to read tar entry %s: %v", h.Name, err)
		}
		out[h.Name] = buf.String()
	}
	return out
}

var allFormats = []pathcompression.Format{pathcompression.Zip, pathcompression.TarGz, pathcompression.TarZst}

func TestCompressDir_StagingRemoved(t *testing.T) {
	for _, format := range allFormats {
		t.Run(format.String(), func(t *testing.T) {
			// Arrange
			base := t.TempDir()
			staging := filepath.Join(base, "items_2025_06_27_1447")
			if err := os.Mkdir(staging, util.UserWritableDirPerms); err != nil {
				t.Fatal(err)
			}
			files := map[string]string{
				"0123456789abcdef0123456789abcdef": "item one",
				"fedcba9876543210fedcba9876543210": strings.Repeat("item two ", 1000),
				"00000000000000000000000000000000": "",
			}
			writeFiles(t, staging, files)
			archivePath := staging + format.Extension()
			m := &metrics.RunMetrics{}

			// Act
			res, err := newTestCompressor(t, m).CompressDir(context.Background(), staging, archivePath, &pathcompression.Plan{
				Format:          format,
				Level:           pathcompression.Best,
				RemoveSourceDir: true,
			})

			// Assert
			if err != nil {
				t.Fatalf("CompressDir failed: %v", err)
			}
			if res.Entries != len(files) {
				t.Errorf("expected %d entries, got %d", len(files), res.Entries)
			}
			if _, err := os.Stat(staging); !os.IsNotExist(err) {
				t.Errorf("expected staging directory to be removed, stat err: %v", err)
			}
			got := readArchive(t, archivePath, format)
			if len(got) != len(files) {
				t.Fatalf("expected %d archive entries, got %d: %v", len(files), len(got), got)
			}
			for name, content := range files {
				if got[name] != content {
					t.Errorf("entry %s: content mismatch", name)
				}
			}
			if m.EntriesArchived.Load() != int64(len(files)) {
				t.Errorf("expected %d entries in metrics, got %d", len(files), m.EntriesArchived.Load())
			}
			if m.CompressedBytes.Load() <= 0 {
				t.Errorf("expected compressed bytes to be recorded")
			}

			leftovers, _ := filepath.Glob(filepath.Join(base, "*.tmp"))
			if len(leftovers) != 0 {
				t.Errorf("expected no temp files, found %v", leftovers)
			}
		})
	}
}

func TestCompressDir_KeepsDirectoryAndSkippedFiles(t *testing.T) {
	// Arrange
	out := t.TempDir()
	writeFiles(t, out, map[string]string{
		"gisprod_enterprise_portal_users.xlsx":   "users",
		"gisprod_enterprise_portal_items.xlsx":   "items",
		"gisprod_enterprise_portal_20250601.zip": "old archive",
	})
	if err := os.Mkdir(filepath.Join(out, "nested"), util.UserWritableDirPerms); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, filepath.Join(out, "nested"), map[string]string{"inner.txt": "inner"})

	archivePath := filepath.Join(out, "gisprod_enterprise_portal_20250627.zip")
	plan := &pathcompression.Plan{
		Format: pathcompression.Zip,
		Level:  pathcompression.Best,
		Skip: func(name string) bool {
			return util.HasSuffixFold(name, ".zip")
		},
	}

	// Act
	res, err := newTestCompressor(t, nil).CompressDir(context.Background(), out, archivePath, plan)

	// Assert
	if err != nil {
		t.Fatalf("CompressDir failed: %v", err)
	}
	if res.Entries != 2 {
		t.Errorf("expected 2 entries, got %d", res.Entries)
	}

	remaining, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("output directory should still exist: %v", err)
	}
	var names []string
	for _, e := range remaining {
		names = append(names, e.Name())
	}
	want := []string{"gisprod_enterprise_portal_20250601.zip", "gisprod_enterprise_portal_20250627.zip", "nested"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected directory content: got %v, want %v", names, want)
	}

	got := readArchive(t, archivePath, pathcompression.Zip)
	if got["gisprod_enterprise_portal_users.xlsx"] != "users" || got["gisprod_enterprise_portal_items.xlsx"] != "items" {
		t.Errorf("unexpected archive content: %v", got)
	}
	if _, ok := got["gisprod_enterprise_portal_20250601.zip"]; ok {
		t.Errorf("skipped archive must not be added")
	}
	if _, err := os.Stat(filepath.Join(out, "nested", "inner.txt")); err != nil {
		t.Errorf("subdirectory content must be left alone: %v", err)
	}
}

func TestCompressDir_NothingToCompress(t *testing.T) {
	base := t.TempDir()
	staging := filepath.Join(base, "items_2025_06_27_1447")
	if err := os.Mkdir(staging, util.UserWritableDirPerms); err != nil {
		t.Fatal(err)
	}
	archivePath := staging + ".zip"

	_, err := newTestCompressor(t, nil).CompressDir(context.Background(), staging, archivePath, &pathcompression.Plan{
		Format:          pathcompression.Zip,
		RemoveSourceDir: true,
	})

	if !hints.Is(err, pathcompression.ErrNothingToCompress) {
		t.Fatalf("expected ErrNothingToCompress hint, got %v", err)
	}
	if _, err := os.Stat(archivePath); !os.IsNotExist(err) {
		t.Errorf("expected no archive to be written")
	}
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Errorf("expected empty staging directory to be removed")
	}
}

func TestCompressDir_DryRun(t *testing.T) {
	staging := t.TempDir()
	writeFiles(t, staging, map[string]string{
		"0123456789abcdef0123456789abcdef": "a",
		"fedcba9876543210fedcba9876543210": "b",
	})
	archivePath := filepath.Join(t.TempDir(), "items.zip")

	res, err := newTestCompressor(t, nil).CompressDir(context.Background(), staging, archivePath, &pathcompression.Plan{
		Format:          pathcompression.Zip,
		RemoveSourceDir: true,
		DryRun:          true,
	})

	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if res.Entries != 2 {
		t.Errorf("expected dry run to report 2 entries, got %d", res.Entries)
	}
	if _, err := os.Stat(archivePath); !os.IsNotExist(err) {
		t.Errorf("dry run must not write an archive")
	}
	entries, _ := os.ReadDir(staging)
	if len(entries) != 2 {
		t.Errorf("dry run must not delete sources, %d left", len(entries))
	}
}

func TestCompressDir_CancelledContext(t *testing.T) {
	staging := t.TempDir()
	writeFiles(t, staging, map[string]string{"0123456789abcdef0123456789abcdef": "a"})
	archivePath := filepath.Join(t.TempDir(), "items.zip")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCompressor(t, nil).CompressDir(ctx, staging, archivePath, &pathcompression.Plan{Format: pathcompression.Zip})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(staging, "0123456789abcdef0123456789abcdef")); err != nil {
		t.Errorf("source must survive a cancelled run: %v", err)
	}
}

// cancelOnArchive cancels the run once the first entry is in the archive.
type cancelOnArchive struct {
	metrics.NoopMetrics
	cancel context.CancelFunc
}

func (m *cancelOnArchive) AddEntriesArchived(n int64) { m.cancel() }

func TestCompressDir_FailureAfterDelete(t *testing.T) {
	for _, format := range allFormats {
		t.Run(format.String(), func(t *testing.T) {
			// Arrange
			base := t.TempDir()
			staging := filepath.Join(base, "items_2025_06_27_1447")
			if err := os.Mkdir(staging, util.UserWritableDirPerms); err != nil {
				t.Fatal(err)
			}
			first := "0123456789abcdef0123456789abcdef"
			rest := []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "fedcba9876543210fedcba9876543210"}
			writeFiles(t, staging, map[string]string{first: "one", rest[0]: "two", rest[1]: "three"})
			archivePath := staging + format.Extension()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			m := &cancelOnArchive{cancel: cancel}

			// Act
			_, err := newTestCompressor(t, m).CompressDir(ctx, staging, archivePath, &pathcompression.Plan{
				Format:          format,
				Level:           pathcompression.Best,
				RemoveSourceDir: true,
			})

			// Assert
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			got := readArchive(t, archivePath, format)
			if len(got) != 1 || got[first] != "one" {
				t.Errorf("expected archive to hold exactly the deleted entry, got %v", got)
			}
			if _, err := os.Stat(filepath.Join(staging, first)); !os.IsNotExist(err) {
				t.Errorf("archived source should be deleted, stat err: %v", err)
			}
			for _, name := range rest {
				if _, err := os.Stat(filepath.Join(staging, name)); err != nil {
					t.Errorf("unarchived source %s should remain: %v", name, err)
				}
			}
			leftovers, _ := filepath.Glob(filepath.Join(base, "*.tmp"))
			if len(leftovers) != 0 {
				t.Errorf("expected no temp files, found %v", leftovers)
			}
		})
	}
}

func TestCompressDir_MissingSource(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	_, err := newTestCompressor(t, nil).CompressDir(context.Background(), missing, missing+".zip", &pathcompression.Plan{Format: pathcompression.Zip})
	if err == nil || hints.IsHint(err) {
		t.Fatalf("expected a hard error for a missing source, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    pathcompression.Format
		wantErr bool
	}{
		{"", pathcompression.Zip, false},
		{"zip", pathcompression.Zip, false},
		{"TAR.GZ", pathcompression.TarGz, false},
		{" tar.zst ", pathcompression.TarZst, false},
		{"rar", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := pathcompression.ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	if ext := pathcompression.TarZst.Extension(); ext != ".tar.zst" {
		t.Errorf("unexpected extension %q", ext)
	}
}

func TestIsArchiveName(t *testing.T) {
	for name, want := range map[string]bool{
		"items_2025_06_27_1447.zip":            true,
		"gisprod_portal_20250627.ZIP":          true,
		"gisprod_portal_20250627.tar.gz":       true,
		"items_2025_06_27_1447.tar.zst":        true,
		"gisprod_enterprise_portal_users.xlsx": false,
		"archive.gz":                           false,
	} {
		if got := pathcompression.IsArchiveName(name); got != want {
			t.Errorf("IsArchiveName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    pathcompression.Level
		wantErr bool
	}{
		{"", pathcompression.Best, false},
		{"best", pathcompression.Best, false},
		{"Fastest", pathcompression.Fastest, false},
		{"better", pathcompression.Better, false},
		{"default", pathcompression.Default, false},
		{"max", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := pathcompression.ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
