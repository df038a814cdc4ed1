package history

import (
	"strconv"
	"strings"
	"time"
)

// BOM makes spreadsheet tools detect UTF-8.
const BOM = "\uFEFF"

const csvTimeLayout = "2006/01/02 15:04:05"

// EscapeField always quotes and doubles embedded quotes. encoding/csv only
// quotes when needed, which the exports must not depend on.
func EscapeField(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func joinRow(fields []string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = EscapeField(f)
	}
	return strings.Join(escaped, ",")
}

func formatTime(ms int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc).Format(csvTimeLayout)
}

// HistoryCSV renders the exchange log. Raw columns are included when
// withRaw is set.
func HistoryCSV(items []Item, withRaw bool, loc *time.Location) string {
	headers := "时间,模型,用时(ms),请求 Content,响应 Content"
	if withRaw {
		headers = "时间,模型,用时(ms),请求 Content,请求 Raw,响应 Content,响应 Raw"
	}
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, headers)
	for _, it := range items {
		duration := "-"
		if it.Duration != nil {
			duration = strconv.FormatInt(*it.Duration, 10)
		}
		row := []string{formatTime(it.Timestamp, loc), it.Model, duration, it.RequestContent}
		if withRaw {
			row = append(row, it.RequestRaw, it.ResponseContent, it.ResponseRaw)
		} else {
			row = append(row, it.ResponseContent)
		}
		lines = append(lines, joinRow(row))
	}
	return BOM + strings.Join(lines, "\n")
}

// ModelHistoryCSV renders probe outcomes with keys cut to their first ten
// characters.
func ModelHistoryCSV(items []ModelItem, loc *time.Location) string {
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, "时间,提供商,模型名,API Key,状态,响应延迟(ms)")
	for _, it := range items {
		duration := "N/A"
		if it.Duration != nil && *it.Duration != 0 {
			duration = strconv.FormatInt(*it.Duration, 10)
		}
		lines = append(lines, joinRow([]string{
			formatTime(it.Timestamp, loc),
			it.Provider,
			it.Model,
			truncateKey(it.APIKey),
			statusLabel(it.Status),
			duration,
		}))
	}
	return BOM + strings.Join(lines, "\n")
}

func truncateKey(key string) string {
	r := []rune(key)
	if len(r) > 10 {
		r = r[:10]
	}
	return string(r) + "..."
}

func statusLabel(s Status) string {
	switch s {
	case StatusSuccess:
		return "成功"
	case StatusError:
		return "失败"
	default:
		return "未测试"
	}
}
