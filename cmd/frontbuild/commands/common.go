package commands

import (
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/env"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
)

// Global is passed to every command's Run.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer
}

// CLI definition and global flags.
type CLI struct {
	Dir     string           `short:"C" name:"dir" help:"Project root directory" default:"." type:"existingdir"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build  BuildCmd  `cmd:"" help:"Create an optimized production build"`
	Serve  ServeCmd  `cmd:"" help:"Start the development server with hot updates"`
	Config ConfigCmd `cmd:"" help:"Print the resolved configuration for a mode"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// ExitError ends the process with Code after the failure was already reported.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// resolveConfig resolves the environment, publishes its file-sourced keys and
// composes the configuration for mode.
func resolveConfig(dir, envName string, mode config.Mode, logger *slog.Logger) (*config.ResolvedConfig, error) {
	project, err := config.LoadProject(dir)
	if err != nil {
		return nil, err
	}
	loader := env.NewLoader(project.Root)
	e, err := loader.Resolve(envName)
	if err != nil {
		return nil, err
	}
	if err := loader.Apply(e); err != nil {
		return nil, err
	}
	for _, src := range e.Sources() {
		if src.Found && src.Path != "" {
			logger.Debug("Loaded settings file", logfields.Path(src.Path))
		}
	}
	cfg, err := config.Compose(project, e, mode)
	if err != nil {
		if ce, ok := ferrors.AsClassified(err); ok {
			return nil, ce.WithContext("env", e.Name())
		}
		return nil, err
	}
	logger.Debug("Configuration resolved",
		logfields.Env(e.Name()),
		logfields.Mode(string(cfg.Mode)),
		logfields.Path(cfg.Context))
	return cfg, nil
}
