// Package env resolves the active build environment and its settings.
//
// Resolution happens once at process start. The resulting Environment is
// read-only; Loader.Apply is the single place that writes file-sourced values
// into the process environment, and it refuses to run twice.
package env

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

const (
	Development = "development"
	Production  = "production"
)

// SourceKind identifies where a settings lookup reads from.
type SourceKind string

const (
	SourceAmbient  SourceKind = "ambient"
	SourceFile     SourceKind = "file"
	SourceDefaults SourceKind = "defaults"
)

// Source is one step of the ordered settings lookup.
type Source struct {
	Kind  SourceKind
	Path  string
	Found bool
}

// Settings are the typed values every other component reads.
type Settings struct {
	NodeEnv string `env:"NODE_ENV"`
	Host    string `env:"HOST" envDefault:"localhost"`
	Port    int    `env:"PORT" envDefault:"3000"`
	APIURL  string `env:"API_URL" envDefault:"http://localhost:8080"`
	Analyze bool   `env:"ANALYZE"`
	Strict  bool   `env:"BUILD_STRICT"`
	Browser string `env:"BROWSER"`
}

// ambientKeys are picked up from the process environment even when no settings file mentions them.
var ambientKeys = []string{"NODE_ENV", "HOST", "PORT", "API_URL", "ANALYZE", "BUILD_STRICT", "BROWSER"}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Environment is the resolved, immutable settings view for one invocation.
type Environment struct {
	name     string
	sources  []Source
	values   map[string]string
	fileKeys []string
	settings Settings
}

// Name returns the environment identifier.
func (e *Environment) Name() string { return e.name }

// IsProduction reports whether the environment is the production one.
func (e *Environment) IsProduction() bool { return e.name == Production }

// Sources returns the ordered lookups that were consulted.
func (e *Environment) Sources() []Source { return slices.Clone(e.sources) }

// Get returns a single resolved value.
func (e *Environment) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Values returns a copy of the resolved key/value map.
func (e *Environment) Values() map[string]string { return maps.Clone(e.values) }

// Settings returns the typed settings.
func (e *Environment) Settings() Settings { return e.settings }

// Loader resolves environments relative to a project directory. The process hooks
// are fields so tests can substitute them.
type Loader struct {
	Dir       string
	LookupEnv func(string) (string, bool)
	Setenv    func(string, string) error

	applied bool
}

// NewLoader returns a Loader bound to the real process environment.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir, LookupEnv: os.LookupEnv, Setenv: os.Setenv}
}

// Resolve builds the Environment for requested (default "development").
// A missing settings file is not an error; an unreadable or malformed one is.
func (l *Loader) Resolve(requested string) (*Environment, error) {
	name := requested
	if name == "" {
		name = Development
	}
	if !validName.MatchString(name) {
		return nil, ferrors.ValidationError("invalid environment name").WithContext("env", name).Build()
	}

	sources := []Source{{Kind: SourceAmbient, Found: true}}
	fileValues, path, err := l.readSettingsFile(name)
	if err != nil {
		return nil, err
	}
	named := filepath.Join(l.Dir, ".env."+name)
	sources = append(sources,
		Source{Kind: SourceFile, Path: named, Found: path == named},
		Source{Kind: SourceFile, Path: filepath.Join(l.Dir, ".env"), Found: path != "" && path != named},
		Source{Kind: SourceDefaults, Found: true},
	)

	values := make(map[string]string, len(fileValues)+len(ambientKeys))
	fileKeys := make([]string, 0, len(fileValues))
	for k, v := range fileValues {
		fileKeys = append(fileKeys, k)
		if ambient, ok := l.LookupEnv(k); ok {
			v = ambient
		}
		values[k] = v
	}
	sort.Strings(fileKeys)
	for _, k := range ambientKeys {
		if v, ok := l.LookupEnv(k); ok {
			values[k] = v
		}
	}
	if _, ok := values["NODE_ENV"]; !ok {
		values["NODE_ENV"] = name
	}

	var settings Settings
	if err := env.ParseWithOptions(&settings, env.Options{Environment: values}); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid environment settings").
			WithContext("env", name).
			Fatal().
			Build()
	}

	return &Environment{
		name:     name,
		sources:  sources,
		values:   values,
		fileKeys: fileKeys,
		settings: settings,
	}, nil
}

// readSettingsFile returns the parsed contents of .env.<name>, falling back to .env.
func (l *Loader) readSettingsFile(name string) (map[string]string, string, error) {
	for _, candidate := range []string{".env." + name, ".env"} {
		path := filepath.Join(l.Dir, candidate)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "stat settings file").
				WithContext("path", path).
				Build()
		}
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, "", ferrors.WrapError(err, ferrors.CategoryConfig, "parse settings file").
				WithContext("path", path).
				Fatal().
				Build()
		}
		return values, path, nil
	}
	return map[string]string{}, "", nil
}

// Apply publishes file-sourced settings into the process environment. Ambient
// values are never overwritten. It may run only once per Loader.
func (l *Loader) Apply(e *Environment) error {
	if l.applied {
		return ferrors.InternalError("environment already applied").Build()
	}
	l.applied = true

	keys := slices.Clone(e.fileKeys)
	if !slices.Contains(keys, "NODE_ENV") {
		keys = append(keys, "NODE_ENV")
	}
	for _, k := range keys {
		if _, ok := l.LookupEnv(k); ok {
			continue
		}
		if err := l.Setenv(k, e.values[k]); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}
