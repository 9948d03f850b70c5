package constants

import "strings"

// AllowedExtensions holds the document types accepted by the conversion service.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// ImageExtensions holds the figure asset types attached to vision requests.
var ImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"bmp":  {},
	"gif":  {},
}

const (
	// ConvertedMarkdown is the text file inside each conversion archive.
	ConvertedMarkdown = "full.md"
	// ImagesDir holds figure assets next to ConvertedMarkdown.
	ImagesDir = "images"

	InputDir     = "input"
	JSONDataDir  = "json_data"
	JSONErrorDir = "json_error"
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func IsAllowedDocument(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

func IsImage(ext string) bool {
	_, ok := ImageExtensions[NormalizeExt(ext)]
	return ok
}
