package intake

import (
	"regexp"
	"strings"
)

var titlePattern = regexp.MustCompile(`\*\*(.*?)\*\*`)

var metricMarkers = []string{"Price:", "Market Cap:", "Liquidity:", "Volume", "Change", "24h"}

// SegmentTrending 把自由文本的热门代币报告重新分段：标题行（含 ** 与括号）开启新段，
// 之后的指标行归入该段，其余行丢弃。输出中段落之间以空行分隔。
func SegmentTrending(report string) string {
	var (
		out     strings.Builder
		current strings.Builder
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		out.WriteString(current.String())
		out.WriteString("\n\n")
		current.Reset()
	}

	for _, line := range strings.Split(report, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isTitle(line) {
			flush()
			if m := titlePattern.FindStringSubmatch(line); m != nil {
				current.WriteString("**" + m[1] + "**\n")
			}
			continue
		}
		if isMetric(line) {
			current.WriteString(trimmed + "\n")
		}
	}

	out.WriteString(current.String())
	return out.String()
}

func isTitle(line string) bool {
	return strings.Contains(line, "**") && strings.ContainsAny(line, "()")
}

func isMetric(line string) bool {
	for _, marker := range metricMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
