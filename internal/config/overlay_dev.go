package config

import (
	"time"

	"dario.cat/mergo"

	"git.home.luguber.info/inful/frontbuild/internal/env"
)

// DevInlineLimit is the development image data-URL threshold in bytes.
const DevInlineLimit = 10 * 1024

// DefaultWatchDebounce coalesces bursts of file events into one rebuild.
const DefaultWatchDebounce = 300 * time.Millisecond

// devDefaults fill settings an environment leaves empty.
var devDefaults = env.Settings{Host: "localhost", Port: 3000, APIURL: "http://localhost:8080"}

// Dev returns the development overlay for e.
func Dev(e *env.Environment) *Overlay {
	s := e.Settings()
	_ = mergo.Merge(&s, devDefaults)
	host, port, apiURL := s.Host, s.Port, s.APIURL

	return &Overlay{
		Name:    env.Development,
		Mode:    Ptr(ModeDevelopment),
		Devtool: Ptr(DevtoolEvalSourceMap),
		Output: OutputPatch{
			Filename: Ptr("[name].js"),
		},
		Rules: []Entry[Rule]{
			MergeInto(Rule{
				Name: RuleScripts,
				Use:  []Step{{Processor: ProcHotReload}},
			}),
			Upsert(imageRule(DevInlineLimit)),
		},
		Plugins: []Entry[Plugin]{
			Upsert(Plugin{Name: PluginHMR}),
		},
		Performance: &Performance{Hints: ""},
		DevServer: &DevServerPatch{
			Host:               Ptr(host),
			Port:               Ptr(port),
			Hot:                Ptr(true),
			Compress:           Ptr(true),
			HistoryAPIFallback: Ptr(true),
			Open:               Ptr(s.Browser != "none"),
			Overlay:            &ClientOverlay{Errors: true, Warnings: false},
			Progress:           Ptr(true),
			WatchDebounce:      Ptr(DefaultWatchDebounce),
			Proxy: []Entry[ProxyRule]{
				Upsert(ProxyRule{
					Name:         "api",
					Context:      []string{"/api"},
					Target:       apiURL,
					ChangeOrigin: true,
					PathRewrite:  map[string]string{"^/api": ""},
				}),
			},
		},
	}
}

func imageRule(inlineLimit int64) Rule {
	return Rule{
		Name:      RuleImages,
		Test:      imageTest,
		Type:      AssetTypeAsset,
		Parser:    &Parser{InlineMaxSize: inlineLimit},
		Generator: &Generator{Filename: "images/[name].[hash:8][ext]"},
	}
}
