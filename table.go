package main

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	tableSeparator = regexp.MustCompile(`^\|?\s*:?-{2,}:?\s*(\|\s*:?-{2,}:?\s*)*\|?$`)
	firstNumber    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	hourRange      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[-–]\s*(\d+(?:\.\d+)?)`)
)

type tableColumns struct {
	day, date, topic, hours, question, resource int
}

func newTableColumns(header []string) (tableColumns, bool) {
	cols := tableColumns{-1, -1, -1, -1, -1, -1}
	for i, h := range header {
		h = strings.ToLower(strings.Trim(h, " *_"))
		switch {
		case h == "day" || strings.HasPrefix(h, "day "):
			cols.day = i
		case strings.Contains(h, "date"):
			cols.date = i
		case strings.Contains(h, "topic"):
			cols.topic = i
		case strings.Contains(h, "hour"):
			cols.hours = i
		case strings.Contains(h, "question"):
			cols.question = i
		case strings.Contains(h, "resource") || strings.Contains(h, "link"):
			cols.resource = i
		}
	}
	return cols, cols.topic >= 0 || cols.day >= 0
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// splitRow splits a Markdown table row, honouring escaped pipes.
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	line = strings.ReplaceAll(line, `\|`, "\x00")

	parts := strings.Split(line, "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(strings.ReplaceAll(p, "\x00", "|"))
	}
	return parts
}

// ParseScheduleTable picks the rows out of the first Markdown table in md.
// Anything it cannot read is skipped; the raw markdown stays authoritative.
func ParseScheduleTable(md string) []ScheduleRow {
	var (
		rows   []ScheduleRow
		cols   tableColumns
		inside bool
	)
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			if inside {
				break
			}
			continue
		}
		if !inside {
			var ok bool
			if cols, ok = newTableColumns(splitRow(line)); !ok {
				continue
			}
			inside = true
			continue
		}
		if tableSeparator.MatchString(line) {
			continue
		}

		cells := splitRow(line)
		hoursText := cell(cells, cols.hours)
		row := ScheduleRow{
			Date:             cell(cells, cols.date),
			Topic:            cell(cells, cols.topic),
			HoursText:        hoursText,
			EstimatedHours:   ParseHours(hoursText),
			PracticeQuestion: cell(cells, cols.question),
			Resource:         cell(cells, cols.resource),
		}
		if m := firstNumber.FindString(cell(cells, cols.day)); m != "" {
			row.Day, _ = strconv.Atoi(strings.Split(m, ".")[0])
		}
		if row.Day == 0 {
			row.Day = len(rows) + 1
		}
		rows = append(rows, row)
	}
	return rows
}

// ParseHours reads values like "1.5 hours", "3h", "2-3 hours" or "45 min".
// Ranges count as their midpoint.
func ParseHours(s string) float64 {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0
	}

	var v float64
	if m := hourRange.FindStringSubmatch(s); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		v = (lo + hi) / 2
	} else if m := firstNumber.FindString(s); m != "" {
		v, _ = strconv.ParseFloat(m, 64)
	} else {
		return 0
	}

	if strings.Contains(s, "min") && !strings.Contains(s, "h") {
		v /= 60
	}
	return v
}

func TotalHours(rows []ScheduleRow) float64 {
	var total float64
	for _, r := range rows {
		total += r.EstimatedHours
	}
	return total
}
