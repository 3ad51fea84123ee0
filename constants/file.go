package constants

import (
	"path/filepath"
	"strings"
)

// ImageExtensions holds the scan image formats accepted on ingest.
var ImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tiff": {},
	"tif":  {},
	"bmp":  {},
}

// Sentinel identifier values: an extraction that could not determine a real
// identifier stores one of these instead.
const (
	IDNotFound     = "not_found"
	IDParsingError = "parsing_error"
	IDError        = "ERROR"
)

// IsSentinelID reports whether id carries no real identifier.
func IsSentinelID(id string) bool {
	switch strings.TrimSpace(id) {
	case "", IDNotFound, IDParsingError, IDError:
		return true
	}
	return false
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsImageFile reports whether path has an accepted scan image extension.
func IsImageFile(path string) bool {
	_, ok := ImageExtensions[NormalizeExt(filepath.Ext(path))]
	return ok
}

// Classified image name markers: after classification the front image stem
// ends in "A" and the back image stem ends in "B".
const (
	FrontSuffix = "A"
	BackSuffix  = "B"
)
