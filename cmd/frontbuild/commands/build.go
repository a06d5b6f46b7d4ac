package commands

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/frontbuild/internal/build"
	"git.home.luguber.info/inful/frontbuild/internal/config"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Env string `short:"e" name:"env" default:"production" help:"Environment whose settings files are loaded."`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := resolveConfig(root.Dir, b.Env, config.ModeProduction, g.Logger)
	if err != nil {
		return err
	}
	res := build.NewOrchestrator(build.WithOutput(g.Out), build.WithLogger(g.Logger)).Run(ctx, cfg)
	if res.Err != nil {
		code := ferrors.NewCLIErrorAdapter(root.Verbose, g.Logger).ExitCodeFor(res.Err)
		g.Logger.Debug("Build aborted", logfields.Error(res.Err), "exit_code", code)
		return &ExitError{Code: code, Err: res.Err}
	}
	if code := res.ExitCode(); code != 0 {
		return &ExitError{Code: code, Err: res.Failure()}
	}
	return nil
}
