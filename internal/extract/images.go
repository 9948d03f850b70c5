package extract

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docextract/constants"
)

var (
	reImageRef = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)
	reCaption  = regexp.MustCompile(`(?i)(?:\bfig(?:ure)?s?\.?|\btable|图|表)\s?\d+`)
)

// captionLines is how far after an image reference a caption may appear.
const captionLines = 3

// ImageSet is the outcome of locating a document's figures.
type ImageSet struct {
	Paths   []string
	Pass    int // 1 caption match, 2 filename fallback, 0 none
	Missing int
}

// LocateImages finds figures worth sending with the text. Pass one takes
// images whose neighbourhood contains a figure or table caption. When that
// finds nothing, pass two takes files under images/ whose name contains
// "fig". Referenced files that do not exist are skipped with a warning.
func LocateImages(text, docDir string, maxImages int, logger *slog.Logger) ImageSet {
	if logger == nil {
		logger = slog.Default()
	}
	var set ImageSet
	seen := map[string]bool{}
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		for _, m := range reImageRef.FindAllStringSubmatch(line, -1) {
			if !hasNearbyCaption(lines, i, m[0]) {
				continue
			}
			path, ok := resolveInside(docDir, m[1])
			if !ok {
				logger.Warn("extract.images.outside_document", "ref", m[1])
				continue
			}
			if seen[path] {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				logger.Warn("extract.images.missing", "path", path)
				set.Missing++
				continue
			}
			seen[path] = true
			set.Paths = append(set.Paths, path)
		}
	}
	if len(set.Paths) > 0 {
		set.Pass = 1
	} else {
		set.Paths = figureFiles(filepath.Join(docDir, constants.ImagesDir))
		if len(set.Paths) > 0 {
			set.Pass = 2
			logger.Info("extract.images.filename_fallback", "count", len(set.Paths))
		}
	}

	if maxImages > 0 && len(set.Paths) > maxImages {
		logger.Info("extract.images.capped", "found", len(set.Paths), "max", maxImages)
		set.Paths = set.Paths[:maxImages]
	}
	return set
}

// hasNearbyCaption looks at the rest of the image line and the few lines
// after it, stopping at the next image reference.
func hasNearbyCaption(lines []string, i int, ref string) bool {
	rest := lines[i][strings.Index(lines[i], ref)+len(ref):]
	if reCaption.MatchString(reImageRef.ReplaceAllString(rest, "")) {
		return true
	}
	for j := i + 1; j < len(lines) && j <= i+captionLines; j++ {
		if reImageRef.MatchString(lines[j]) {
			return false
		}
		if reCaption.MatchString(lines[j]) {
			return true
		}
	}
	return false
}

func resolveInside(dir, ref string) (string, bool) {
	if strings.Contains(ref, "://") || filepath.IsAbs(ref) {
		return "", false
	}
	p := filepath.Join(dir, filepath.FromSlash(ref))
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}

func figureFiles(imagesDir string) []string {
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !constants.IsImage(filepath.Ext(e.Name())) {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if strings.Contains(strings.ToLower(stem), "fig") {
			paths = append(paths, filepath.Join(imagesDir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths
}
