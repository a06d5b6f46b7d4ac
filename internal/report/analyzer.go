package report

import (
	"bytes"
	"cmp"
	"html/template"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
)

// Bundle is the data behind the analyzer page.
type Bundle struct {
	Title     string
	Hash      string
	Mode      string
	Version   string
	Revision  string
	Generated time.Time
	Chunks    []ChunkInfo
}

// ChunkInfo describes one chunk and the modules it contains.
type ChunkInfo struct {
	Name    string
	Kind    string
	Files   []string
	Size    int64
	Gzip    int64
	Modules []ModuleInfo
}

// ModuleInfo is one module inside a chunk.
type ModuleInfo struct {
	Path string
	Size int64
}

// Total returns the summed size of all chunks.
func (b Bundle) Total() int64 {
	var total int64
	for _, c := range b.Chunks {
		total += c.Size
	}
	return total
}

var analyzerPage = template.Must(template.New("analyzer").Funcs(template.FuncMap{
	"bytes": func(n int64) string {
		if n < 0 {
			return "-"
		}
		return humanize.IBytes(uint64(n))
	},
	"percent": func(part, whole int64) string {
		if whole <= 0 {
			return "0"
		}
		return humanize.FtoaWithDigits(float64(part)*100/float64(whole), 2)
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 20px; background: #f5f5f5; }
        .container { max-width: 1200px; margin: 0 auto; background: white; padding: 20px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { border-bottom: 2px solid #eee; padding-bottom: 20px; margin-bottom: 30px; }
        .meta { color: #666; font-size: 14px; }
        .chunk { background: #f8f9fa; padding: 15px; border-radius: 6px; border: 1px solid #dee2e6; margin-bottom: 15px; }
        .chunk-header { display: flex; justify-content: space-between; align-items: center; }
        .kind { padding: 2px 8px; border-radius: 12px; font-size: 11px; font-weight: bold; background: #e9ecef; }
        .bar { background: #e9ecef; height: 8px; border-radius: 4px; margin: 8px 0; }
        .bar span { display: block; height: 8px; border-radius: 4px; background: #007bff; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td { padding: 2px 4px; }
        td.size { text-align: right; white-space: nowrap; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{.Title}}</h1>
            <p class="meta">
                {{.Mode}} build {{.Hash}} • total {{bytes .Total}}
                {{if .Version}} • frontbuild {{.Version}}{{end}}
                {{if .Revision}} • revision {{.Revision}}{{end}}
            </p>
        </div>
        {{$total := .Total}}
        {{range .Chunks}}
        <div class="chunk">
            <div class="chunk-header">
                <strong>{{.Name}}</strong>
                <span class="kind">{{.Kind}}</span>
            </div>
            <div class="bar"><span style="width: {{percent .Size $total}}%"></span></div>
            <div class="meta">{{bytes .Size}} parsed • {{bytes .Gzip}} gzipped • {{range $i, $f := .Files}}{{if $i}}, {{end}}{{$f}}{{end}}</div>
            {{$size := .Size}}
            <table>
            {{range .Modules}}
                <tr><td>{{.Path}}</td><td class="size">{{bytes .Size}}</td><td class="size">{{percent .Size $size}}%</td></tr>
            {{end}}
            </table>
        </div>
        {{end}}
        <div class="meta">Generated {{.Generated.Format "2006-01-02 15:04:05 UTC"}}</div>
    </div>
</body>
</html>
`))

// AnalyzerHTML renders the static bundle report. Chunks are listed by size
// and their modules by size, both descending.
func AnalyzerHTML(b Bundle) ([]byte, error) {
	chunks := slices.Clone(b.Chunks)
	for i := range chunks {
		mods := slices.Clone(chunks[i].Modules)
		slices.SortStableFunc(mods, func(x, y ModuleInfo) int {
			if c := cmp.Compare(y.Size, x.Size); c != 0 {
				return c
			}
			return cmp.Compare(x.Path, y.Path)
		})
		chunks[i].Modules = mods
	}
	slices.SortStableFunc(chunks, func(x, y ChunkInfo) int {
		if c := cmp.Compare(y.Size, x.Size); c != 0 {
			return c
		}
		return cmp.Compare(x.Name, y.Name)
	})
	b.Chunks = chunks
	if b.Title == "" {
		b.Title = "Bundle report"
	}
	b.Generated = b.Generated.UTC()

	var buf bytes.Buffer
	if err := analyzerPage.Execute(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
