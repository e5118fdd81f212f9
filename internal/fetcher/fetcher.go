// Package fetcher retrieves wholesale price sheets from local files, HTTP and
// FTP servers and decodes them into rows of cells.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"
)

// Downloader fetches a remote sheet. The caller closes the body.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Format is the encoding of a price sheet.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat guesses the sheet format from a file name or URL path.
// Anything that is not an .xlsx workbook is read as CSV.
func DetectFormat(location string) Format {
	p := location
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && u.Path != "" {
		p = u.Path
	}
	if strings.EqualFold(path.Ext(p), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

// Scheme returns the lowercased URL scheme of location, or "" for a plain
// file path.
func Scheme(location string) string {
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) < 2 {
		// Single-letter schemes are Windows drive letters.
		return ""
	}
	return strings.ToLower(u.Scheme)
}
