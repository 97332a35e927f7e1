// Package naming derives archive names.
//
// Items archives carry a minute-resolution timestamp, report archives carry the
// report's deployment tokens plus a day stamp. All components are zero padded
// so sorting names sorts archives by age.
package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultItemsPrefix starts every items archive name.
	DefaultItemsPrefix = "items_"
	// DefaultMarker is the filename token that ends a report's deployment prefix.
	DefaultMarker = "portal"

	itemsLayout      = "2006_01_02_1504"
	reportDateLayout = "20060102"
	tokenSeparator   = "_"
)

var (
	// ErrMarkerNotFound is returned when no report filename contains the marker token.
	ErrMarkerNotFound = errors.New("marker token not found in report filename")
	// ErrEmptyPrefix is returned when the marker is the first token of a filename.
	ErrEmptyPrefix = errors.New("report filename has no tokens before the marker")
	// ErrNoReportFiles is returned when the output directory holds no candidate report file.
	ErrNoReportFiles = errors.New("no report files found")
	// ErrArchiveExists is returned when the archive about to be written is already on disk.
	ErrArchiveExists = errors.New("archive already exists")
)

// ItemsArchiveName returns prefix followed by t as YYYY_MM_DD_HHMM.
func ItemsArchiveName(prefix string, t time.Time) string {
	return prefix + t.Format(itemsLayout)
}

// ReportArchiveName keeps the underscore separated tokens of fileName up to and
// including marker and appends t as YYYYMMDD.
//
//	gisprod_enterprise_portal_users.xlsx -> gisprod_enterprise_portal_20250627
func ReportArchiveName(fileName, marker string, t time.Time) (string, error) {
	stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	tokens := strings.Split(stem, tokenSeparator)

	idx := -1
	for i, tok := range tokens {
		if tok == marker {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", fmt.Errorf("%w: %q does not contain %q", ErrMarkerNotFound, fileName, marker)
	}
	if idx == 0 {
		return "", fmt.Errorf("%w: %q", ErrEmptyPrefix, fileName)
	}

	kept := append(tokens[:idx+1:idx+1], t.Format(reportDateLayout))
	return strings.Join(kept, tokenSeparator), nil
}

// FindReportBaseName scans dir in name order and derives the archive name from
// the first regular file carrying the marker. Files for which reserved returns
// true (existing archives, the lock file, the run log) are never considered.
// It returns the archive name and the file it was derived from.
func FindReportBaseName(dir, marker string, t time.Time, reserved func(name string) bool) (string, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to read report directory %s: %w", dir, err)
	}

	candidates := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if reserved != nil && reserved(name) {
			continue
		}
		candidates++

		archiveName, err := ReportArchiveName(name, marker, t)
		if err != nil {
			continue
		}
		return archiveName, name, nil
	}

	if candidates == 0 {
		return "", "", fmt.Errorf("%w in %s", ErrNoReportFiles, dir)
	}
	return "", "", fmt.Errorf("%w: none of %d files in %s contains %q with a prefix", ErrMarkerNotFound, candidates, dir, marker)
}

// EnsureAvailable returns ErrArchiveExists when something already occupies path.
func EnsureAvailable(path string) error {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrArchiveExists, path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot check archive path %s: %w", path, err)
	}
	return nil
}

// ReportRetentionPrefix strips the day stamp from a report archive name,
// leaving the prefix shared by every archive of the same deployment.
func ReportRetentionPrefix(archiveName string) string {
	i := strings.LastIndex(archiveName, tokenSeparator)
	if i < 0 {
		return archiveName
	}
	return archiveName[:i+1]
}
