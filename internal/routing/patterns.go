package routing

import (
	"regexp"
	"strings"
)

// Numbered figure/table references, English and Chinese.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfig(?:ure)?s?\.?\s*\d+`),
	regexp.MustCompile(`(?i)\btables?\s+\d+`),
	regexp.MustCompile(`(?i)\b(?:chart|graph|scheme|plot)\s+\d+`),
	regexp.MustCompile(`[图表]\s*\d+`),
}

// Descriptive phrases that suggest a chart carries the data.
var indicatorPhrases = []string{
	"bar chart", "line chart", "pie chart", "scatter plot", "box plot",
	"heatmap", "heat map", "histogram", "x-axis", "y-axis",
	"data source", "as shown in the", "error bars",
	"柱状图", "折线图", "饼图", "散点图", "热力图", "直方图",
	"数据来源", "如图所示", "横坐标", "纵坐标",
}

type evidence struct {
	references int
	indicators int
	matched    []string
}

func scanEvidence(text string) evidence {
	var ev evidence
	for _, re := range referencePatterns {
		hits := re.FindAllString(text, -1)
		if len(hits) == 0 {
			continue
		}
		ev.references += len(hits)
		ev.matched = append(ev.matched, re.String())
	}
	lower := strings.ToLower(text)
	for _, phrase := range indicatorPhrases {
		if n := strings.Count(lower, phrase); n > 0 {
			ev.indicators += n
			ev.matched = append(ev.matched, phrase)
		}
	}
	return ev
}
