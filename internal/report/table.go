// Package report renders build summaries: the console asset table and the
// static bundle analyzer page.
package report

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// Row is one asset in the console table.
type Row struct {
	Name string
	Kind string
	Size int64
	// Gzip is the compressed size; negative when unknown.
	Gzip int64
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	sizeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	largeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

// LargeAsset is the size above which the table highlights an asset.
const LargeAsset = 512000

// SortRows orders rows by size descending, then by name.
func SortRows(rows []Row) {
	slices.SortStableFunc(rows, func(a, b Row) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

// AssetTable writes rows as an aligned table sorted by size. Styling is
// applied only when styled is set, so redirected output stays plain.
func AssetTable(w io.Writer, rows []Row, styled bool) error {
	rows = slices.Clone(rows)
	SortRows(rows)

	render := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	nameWidth := len("File")
	for _, r := range rows {
		nameWidth = max(nameWidth, len(r.Name))
	}
	var total, totalGzip int64
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s\n",
		render(headerStyle, pad("File", nameWidth)),
		render(headerStyle, padLeft("Size", 10)),
		render(headerStyle, padLeft("Gzipped", 10)))
	for _, r := range rows {
		size := humanize.IBytes(uint64(r.Size))
		style := sizeStyle
		if r.Size > LargeAsset {
			style = largeStyle
		}
		gz := "-"
		if r.Gzip >= 0 {
			gz = humanize.IBytes(uint64(r.Gzip))
			totalGzip += r.Gzip
		}
		total += r.Size
		fmt.Fprintf(&b, "%s  %s  %s\n",
			render(nameStyle, pad(r.Name, nameWidth)),
			render(style, padLeft(size, 10)),
			render(faintStyle, padLeft(gz, 10)))
	}
	fmt.Fprintf(&b, "%s  %s  %s\n",
		pad(fmt.Sprintf("%d files", len(rows)), nameWidth),
		padLeft(humanize.IBytes(uint64(total)), 10),
		padLeft(humanize.IBytes(uint64(totalGzip)), 10))
	_, err := io.WriteString(w, b.String())
	return err
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func padLeft(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}
