package pathcompression

import (
	"fmt"
	"strings"

	"github.com/paulschiretz/portal-backup/pkg/util"
)

// Format represents the archive format for compression.
type Format string

const (
	Zip    Format = "zip"
	TarGz  Format = "tar.gz"
	TarZst Format = "tar.zst"
)

var formatToString = map[Format]string{
	Zip:    "zip",
	TarGz:  "tar.gz",
	TarZst: "tar.zst",
}

var stringToFormat map[string]Format

func init() {
	stringToFormat = util.InvertMap(formatToString)
}

func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_compression_format(%s)", string(f))
}

// Extension returns the file extension including the leading dot.
func (f Format) Extension() string {
	return "." + f.String()
}

// ParseFormat parses a format name. An empty string selects Zip.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Zip, nil
	}
	if format, ok := stringToFormat[s]; ok {
		return format, nil
	}
	return "", fmt.Errorf("invalid compression format: %q. Must be 'zip', 'tar.gz', or 'tar.zst'", s)
}

// IsArchiveName reports whether name ends in the extension of any supported format.
func IsArchiveName(name string) bool {
	for f := range formatToString {
		if util.HasSuffixFold(name, f.Extension()) {
			return true
		}
	}
	return false
}
