// Package record selects and formats the display fields of a CSV record
// line for a GET response. See spec.md §6.2.
package record

import "strings"

// columns lists, by zero-based index into the comma-split line, the
// fields the formatted response surfaces, paired with their label. The
// original system does not interpret CSV quoting, and neither do we:
// fields are split on ',' only (spec.md §6.2, and design note (4)).
var columns = []struct {
	index int
	label string
}{
	{0, "ID"},
	{4, "Title"},
	{10, "Author"},
	{14, "Publisher"},
	{15, "Language"},
	{12, "Year"},
	{18, "Rating"},
	{19, "Pages"},
	{13, "Source-file"},
	{17, "Description"},
}

// Separator terminates a formatted multi-line response (spec.md §6.3).
const Separator = "----------------------------------------" // 40 dashes

// Format splits line on ',' and renders the selected columns as
// "Label: value" lines, one per line, terminated by the 40-dash
// separator. Missing columns (a line shorter than the widest selected
// index) render as an empty value rather than erroring, since the server
// must not crash on a short or malformed CSV record.
func Format(line string) string {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, ",")

	var b strings.Builder
	for _, c := range columns {
		val := ""
		if c.index < len(fields) {
			val = fields[c.index]
		}
		b.WriteString(c.label)
		b.WriteString(": ")
		b.WriteString(val)
		b.WriteByte('\n')
	}
	b.WriteString(Separator)
	b.WriteByte('\n')
	return b.String()
}
