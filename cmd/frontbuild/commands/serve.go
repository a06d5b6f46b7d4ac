package commands

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/devserver"
)

// ServeCmd starts the development server and blocks until interrupted.
type ServeCmd struct {
	Env string `short:"e" name:"env" default:"development" help:"Environment whose settings files are loaded."`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := resolveConfig(root.Dir, s.Env, config.ModeDevelopment, g.Logger)
	if err != nil {
		return err
	}
	h, err := devserver.Start(ctx, cfg, devserver.WithOutput(g.Out), devserver.WithLogger(g.Logger))
	if err != nil {
		return err
	}
	<-h.Done()
	if err := h.Err(); err != nil {
		return err
	}
	g.Logger.Info("Dev server stopped")
	return nil
}
