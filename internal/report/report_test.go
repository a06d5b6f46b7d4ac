package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipSizeShrinksRepetitiveContent(t *testing.T) {
	content := bytes.Repeat([]byte("const a = 1;\n"), 500)
	size := GzipSize(content)
	require.Positive(t, size)
	assert.Less(t, size, int64(len(content)))
}

func TestAssetTableSortsBySizeDescending(t *testing.T) {
	rows := []Row{
		{Name: "css/app.css", Kind: "css", Size: 2048, Gzip: 512},
		{Name: "js/vendors.js", Kind: "js", Size: 150000, Gzip: 48000},
		{Name: "js/app.js", Kind: "js", Size: 10240, Gzip: -1},
	}
	var buf bytes.Buffer
	require.NoError(t, AssetTable(&buf, rows, false))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "File")
	assert.True(t, strings.HasPrefix(lines[1], "js/vendors.js"))
	assert.Contains(t, lines[1], "146 KiB")
	assert.True(t, strings.HasPrefix(lines[2], "js/app.js"))
	assert.Contains(t, lines[2], "-")
	assert.True(t, strings.HasPrefix(lines[3], "css/app.css"))
	assert.Contains(t, lines[4], "3 files")
	assert.NotContains(t, buf.String(), "\x1b[")

	// The input is left untouched.
	assert.Equal(t, "css/app.css", rows[0].Name)
}

func TestAnalyzerHTMLListsChunksAndEscapes(t *testing.T) {
	page, err := AnalyzerHTML(Bundle{
		Hash:      "abc123",
		Mode:      "production",
		Version:   "v1.2.3",
		Generated: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Chunks: []ChunkInfo{
			{Name: "app", Kind: "entry", Files: []string{"js/app.js"}, Size: 100, Gzip: 80,
				Modules: []ModuleInfo{{Path: "./src/<index>.tsx", Size: 100}}},
			{Name: "vendors", Kind: "shared", Files: []string{"js/vendors.js"}, Size: 900, Gzip: 300},
		},
	})
	require.NoError(t, err)
	html := string(page)
	assert.Contains(t, html, "<title>Bundle report</title>")
	assert.Contains(t, html, "frontbuild v1.2.3")
	assert.Contains(t, html, "&lt;index&gt;")
	assert.Contains(t, html, "2026-01-02 03:04:05 UTC")
	assert.Less(t, strings.Index(html, "vendors"), strings.Index(html, "<strong>app</strong>"))
}
