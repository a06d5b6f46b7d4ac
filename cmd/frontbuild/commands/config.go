package commands

import (
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// ConfigCmd prints the configuration a build or serve run would use.
type ConfigCmd struct {
	Mode string `short:"m" name:"mode" enum:"development,production" default:"production" help:"Mode to resolve (development|production)."`
	Env  string `short:"e" name:"env" help:"Environment name (defaults to the mode)."`
}

func (c *ConfigCmd) Run(g *Global, root *CLI) error {
	envName := c.Env
	if envName == "" {
		envName = c.Mode
	}
	cfg, err := resolveConfig(root.Dir, envName, config.Mode(c.Mode), g.Logger)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(g.Out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "encode configuration").Build()
	}
	return enc.Close()
}
