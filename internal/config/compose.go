package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"

	"github.com/zeebo/blake3"

	"git.home.luguber.info/inful/frontbuild/internal/env"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// OverlayFor selects the overlay matching mode.
func OverlayFor(mode Mode, project *Project, e *env.Environment) (*Overlay, error) {
	switch mode {
	case ModeDevelopment:
		return Dev(e), nil
	case ModeProduction:
		return Prod(project, e), nil
	default:
		return nil, ferrors.ConfigError("unknown mode").WithContext("mode", string(mode)).Build()
	}
}

// Compose builds, merges and validates the configuration for mode.
func Compose(project *Project, e *env.Environment, mode Mode) (*ResolvedConfig, error) {
	overlay, err := OverlayFor(mode, project, e)
	if err != nil {
		return nil, err
	}
	cfg, err := Merge(Base(project, e), overlay)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Fingerprint identifies the inputs that invalidate cached transforms: the
// cache version tag, the whole configuration and every build dependency file.
// Missing dependency files contribute their absence.
func Fingerprint(c *ResolvedConfig) (string, error) {
	canonical, err := json.Marshal(c)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryInternal, "encode configuration").Build()
	}

	h := blake3.New()
	_, _ = h.Write([]byte(c.Cache.Version))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(canonical)

	labels := make([]string, 0, len(c.Cache.BuildDependencies))
	for label := range c.Cache.BuildDependencies {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		for _, path := range c.Cache.BuildDependencies[label] {
			_, _ = h.Write([]byte{0})
			_, _ = h.Write([]byte(label + ":" + path))
			data, err := os.ReadFile(path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				_, _ = h.Write([]byte{1})
			case err != nil:
				return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "read build dependency").
					WithContext("path", path).
					Build()
			default:
				_, _ = h.Write(data)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
