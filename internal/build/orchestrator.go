package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"git.home.luguber.info/inful/frontbuild/internal/compiler"
	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/metrics"
	"git.home.luguber.info/inful/frontbuild/internal/report"
	"git.home.luguber.info/inful/frontbuild/internal/version"
)

// Compiler is the part of *compiler.Compiler the orchestrator drives.
type Compiler interface {
	Run(ctx context.Context) (*compiler.Stats, error)
	Close() error
}

// CompilerFactory creates the compiler for a configuration.
type CompilerFactory func(cfg *config.ResolvedConfig) (Compiler, error)

var (
	bannerStyle  = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
)

// Orchestrator performs production builds.
type Orchestrator struct {
	newCompiler CompilerFactory
	out         io.Writer
	styled      bool
	logger      *slog.Logger
	recorder    metrics.Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCompilerFactory replaces the compiler constructor (used by tests).
func WithCompilerFactory(f CompilerFactory) Option {
	return func(o *Orchestrator) { o.newCompiler = f }
}

// WithOutput sets where the banner, diagnostics and table are printed.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// NewOrchestrator returns an Orchestrator writing to stdout.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		out:      os.Stdout,
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.newCompiler == nil {
		logger := o.logger
		o.newCompiler = func(cfg *config.ResolvedConfig) (Compiler, error) {
			return compiler.New(cfg, compiler.WithLogger(logger))
		}
	}
	if f, ok := o.out.(*os.File); ok {
		o.styled = term.IsTerminal(int(f.Fd()))
	}
	return o
}

// Run performs exactly one compile of cfg and writes its output. Every
// failure is reported through the Result; the compiler is closed on every path.
func (o *Orchestrator) Run(ctx context.Context, cfg *config.ResolvedConfig) *Result {
	started := time.Now()
	res := &Result{OutputDir: cfg.Output.Dir}
	defer func() {
		res.Duration = time.Since(started)
		o.recorder.ObserveCompile("build", res.Duration, outcome(res))
	}()

	o.banner(cfg)

	if cfg.Output.Clean {
		if err := cleanDir(cfg.Output.Dir); err != nil {
			return o.fail(res, err)
		}
	}

	c, err := o.newCompiler(cfg)
	if err != nil {
		return o.fail(res, err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			o.logger.Warn("Failed to release compiler", logfields.Error(err))
		}
	}()

	stats, err := c.Run(ctx)
	if err != nil {
		return o.fail(res, err)
	}
	res.Hash = stats.Hash
	res.Diagnostics = stats.Diagnostics.Sorted()
	res.Status = classify(res.Diagnostics, cfg.Strict)
	o.printDiagnostics(res.Diagnostics)

	log := o.logger.With(logfields.BuildID(stats.BuildID))
	if !res.Status.IsSuccess() {
		if cfg.Strict && !res.Diagnostics.HasErrors() {
			o.line(errorStyle, "Failed to compile: warnings are treated as errors (BUILD_STRICT).")
		} else {
			o.line(errorStyle, "Failed to compile.")
		}
		log.Error("Build failed",
			"errors", len(res.Diagnostics.Errors()),
			"warnings", len(res.Diagnostics.Warnings()))
		return res
	}

	if err := writeAssets(cfg.Output.Dir, stats.Assets); err != nil {
		return o.fail(res, err)
	}
	res.Assets = describe(stats)

	var total int64
	for _, a := range res.Assets {
		total += a.Size
	}
	o.recorder.ObserveAssets(len(res.Assets), total)

	if res.Status == StatusSuccessWithWarnings {
		o.line(warningStyle, "Compiled with warnings.")
	} else {
		o.line(successStyle, "Compiled successfully.")
	}
	fmt.Fprintln(o.out)
	if err := report.AssetTable(o.out, tableRows(res.Assets), o.styled); err != nil {
		log.Warn("Failed to print asset table", logfields.Error(err))
	}
	log.Info("Build finished",
		logfields.Path(cfg.Output.Dir),
		"status", string(res.Status),
		"assets", len(res.Assets),
		logfields.Duration(time.Since(started)))
	return res
}

func (o *Orchestrator) fail(res *Result, err error) *Result {
	res.Status = StatusFailed
	res.Err = err
	o.line(errorStyle, "Failed to compile.")
	fmt.Fprintf(o.out, "%v\n", err)
	o.logger.Error("Build failed", logfields.Error(err))
	return res
}

func (o *Orchestrator) banner(cfg *config.ResolvedConfig) {
	title := "frontbuild " + version.Version
	if rev, err := version.ProjectRevision(cfg.Context); err == nil {
		title += " @ " + rev
	}
	o.line(bannerStyle, title)
	fmt.Fprintf(o.out, "Creating a %s build in %s...\n\n", cfg.Mode, cfg.Output.Dir)
}

func (o *Orchestrator) printDiagnostics(ds diag.List) {
	for _, group := range []struct {
		label string
		style lipgloss.Style
		list  diag.List
	}{
		{"ERROR", errorStyle, ds.Errors()},
		{"WARNING", warningStyle, ds.Warnings()},
	} {
		for _, d := range group.list {
			header := group.label
			if loc := d.Location(); loc != "" {
				header += " in " + loc
			}
			o.line(group.style, header)
			msg := d.Message
			if d.Origin != "" {
				msg += " [" + d.Origin + "]"
			}
			fmt.Fprintf(o.out, "%s\n\n", msg)
		}
	}
}

// line writes text followed by a newline, styled when writing to a terminal.
func (o *Orchestrator) line(style lipgloss.Style, text string) {
	if o.styled {
		text = style.Render(text)
	}
	_, _ = io.WriteString(o.out, text+"\n")
}

func outcome(res *Result) metrics.Outcome {
	switch {
	case errors.Is(res.Err, context.Canceled):
		return metrics.OutcomeCanceled
	case res.Status == StatusSuccess:
		return metrics.OutcomeSuccess
	case res.Status == StatusSuccessWithWarnings:
		return metrics.OutcomeWarning
	default:
		return metrics.OutcomeFailed
	}
}

// cleanDir empties dir, creating it when missing.
func cleanDir(dir string) error {
	if dir == "" || dir == "/" || filepath.Dir(dir) == dir {
		return ferrors.ConfigError("refusing to clean output directory").WithContext("dir", dir).Build()
	}
	if err := os.RemoveAll(dir); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryResource, "clear output directory").
			WithContext("dir", dir).
			Build()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryResource, "create output directory").
			WithContext("dir", dir).
			Build()
	}
	return nil
}

func writeAssets(dir string, assets []*compiler.Asset) error {
	for _, a := range assets {
		path := filepath.Join(dir, filepath.FromSlash(a.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryResource, "create asset directory").
				WithContext("path", path).
				Build()
		}
		if err := os.WriteFile(path, a.Content, 0o644); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryResource, "write asset").
				WithContext("path", path).
				Build()
		}
	}
	return nil
}

// describe lists written files; scripts and styles get their gzip size,
// taken from an emitted .gz sibling when there is one.
func describe(stats *compiler.Stats) []AssetInfo {
	out := make([]AssetInfo, 0, len(stats.Assets))
	for _, a := range stats.Assets {
		info := AssetInfo{Path: a.Name, Size: a.Size(), Kind: string(a.Kind)}
		if a.Kind == compiler.AssetScript || a.Kind == compiler.AssetStyle {
			if gz := stats.Asset(a.Name + ".gz"); gz != nil {
				info.Gzip = gz.Size()
			} else {
				info.Gzip = report.GzipSize(a.Content)
			}
		}
		out = append(out, info)
	}
	return out
}

func tableRows(assets []AssetInfo) []report.Row {
	var rows []report.Row
	for _, a := range assets {
		if a.Kind != string(compiler.AssetScript) && a.Kind != string(compiler.AssetStyle) {
			continue
		}
		rows = append(rows, report.Row{Name: a.Path, Kind: a.Kind, Size: a.Size, Gzip: a.Gzip})
	}
	return rows
}
