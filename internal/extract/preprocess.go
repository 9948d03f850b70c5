package extract

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	// leading markdown hashes, section numbering ("7.", "A.", "VII") and bold markers
	reHeadingPrefix = regexp.MustCompile(`^(?:#+\s*)?(?:\*\*)?(?:(?:\d+(?:\.\d+)*|[A-Z]|[IVX]+)[.)]?\s+)?`)
)

// Section titles that carry no extractable content.
var boilerplateTitles = []string{
	"references", "reference", "bibliography", "literature cited",
	"acknowledgments", "acknowledgements", "acknowledgment", "acknowledgement",
	"data availability", "data availability statement",
	"declaration of competing interest", "competing interests", "competing interest",
	"conflict of interest", "conflicts of interest",
	"funding", "funding information",
	"appendix", "appendices", "supplementary material", "supplementary materials",
	"author contributions", "credit authorship contribution statement",
	"参考文献", "致谢", "附录", "利益冲突", "基金项目", "数据可用性",
}

// NormalizeText collapses line endings and runs of blank lines.
func NormalizeText(s string) string {
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// StripBoilerplate removes boilerplate sections. A section starts at a
// heading line whose title is one of boilerplateTitles and runs until the
// next markdown heading that is not itself boilerplate.
func StripBoilerplate(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	skipping := false
	for _, line := range lines {
		heading := strings.HasPrefix(strings.TrimSpace(line), "#")
		if isBoilerplateHeading(line) {
			skipping = true
			continue
		}
		if skipping && !heading {
			continue
		}
		skipping = false
		out = append(out, line)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n")
}

func isBoilerplateHeading(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" || utf8.RuneCountInString(t) > 80 {
		return false
	}
	t = reHeadingPrefix.ReplaceAllString(t, "")
	t = strings.TrimSpace(strings.Trim(t, "*:：_ "))
	t = strings.ToLower(t)
	for _, title := range boilerplateTitles {
		if t == title {
			return true
		}
	}
	return false
}

// Truncate cuts s to at most maxChars runes. maxChars <= 0 disables truncation.
func Truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i], true
		}
		n++
	}
	return s, false
}

// EstimateTokens approximates the request size. The divisor and per-image
// cost are calibration constants, not exact tokenizer counts.
func EstimateTokens(textChars, images int, charsPerToken float64, perImage int) int {
	if charsPerToken <= 0 {
		charsPerToken = 3.5
	}
	return int(math.Ceil(float64(textChars)/charsPerToken)) + images*perImage
}
