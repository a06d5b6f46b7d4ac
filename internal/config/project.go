package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// ProjectFile is the name of the optional project configuration in the project root.
const ProjectFile = "frontbuild.yaml"

// Project holds the application-specific inputs to the base configuration.
type Project struct {
	// Root is the absolute project directory; it is not read from the file.
	Root string `yaml:"-"`
	// File is the absolute path of the project file, empty when none exists.
	File string `yaml:"-"`

	SrcDir     string   `yaml:"src_dir"`
	Entry      string   `yaml:"entry"`
	Template   string   `yaml:"template"`
	Favicon    string   `yaml:"favicon"`
	OutDir     string   `yaml:"out_dir"`
	PublicPath string   `yaml:"public_path"`
	Aliases    []string `yaml:"aliases"`

	Split        SplitSettings `yaml:"split"`
	VendorGroups []VendorGroup `yaml:"vendor_groups"`
	Cache        CacheSettings `yaml:"cache"`
}

// SplitSettings tune the production chunk-splitting policy.
type SplitSettings struct {
	MinSize              int64 `yaml:"min_size"`
	MaxInitialRequests   int   `yaml:"max_initial_requests"`
	MaxAsyncRequests     int   `yaml:"max_async_requests"`
	EnforceSizeThreshold int64 `yaml:"enforce_size_threshold"`
}

// VendorGroup names a set of packages that get their own production chunk.
type VendorGroup struct {
	Name     string   `yaml:"name"`
	Packages []string `yaml:"packages"`
	Priority int      `yaml:"priority"`
}

type CacheSettings struct {
	Dir     string        `yaml:"dir"`
	Version string        `yaml:"version"`
	MaxAge  time.Duration `yaml:"max_age"`
}

// DefaultProject returns the settings used when no project file overrides them.
func DefaultProject() Project {
	return Project{
		SrcDir:     "src",
		Entry:      "./src/index.tsx",
		Template:   "public/index.html",
		Favicon:    "public/favicon.ico",
		OutDir:     "dist",
		PublicPath: "/",
		Aliases:    []string{"components", "pages", "utils", "hooks", "store", "assets"},
		Split: SplitSettings{
			MinSize:              20000,
			MaxInitialRequests:   30,
			MaxAsyncRequests:     30,
			EnforceSizeThreshold: 50000,
		},
		VendorGroups: []VendorGroup{
			{Name: "antd", Packages: []string{"antd"}, Priority: 20},
			{Name: "react", Packages: []string{"react", "react-dom", "react-router", "react-router-dom"}, Priority: 15},
		},
		Cache: CacheSettings{
			Dir:     filepath.Join("node_modules", ".cache", "frontbuild"),
			Version: "1.0.0",
			MaxAge:  24 * time.Hour,
		},
	}
}

// LoadProject reads frontbuild.yaml from root when present. Keys the file
// sets, including explicit zero values and empty lists, replace the
// DefaultProject values; absent keys keep them. A missing file is not an error.
func LoadProject(root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "resolve project root").
			WithContext("path", root).
			Build()
	}

	defaults := DefaultProject()
	project := &defaults
	path := filepath.Join(abs, ProjectFile)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		path = ""
	case err != nil:
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read project file").
			WithContext("path", path).
			Build()
	default:
		if err := yaml.Unmarshal(data, project); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse project file").
				WithContext("path", path).
				Fatal().
				Build()
		}
	}

	project.Root = abs
	project.File = path

	if err := project.validate(); err != nil {
		return nil, err
	}
	return project, nil
}

func (p *Project) validate() error {
	for _, field := range [][2]string{{"src_dir", p.SrcDir}, {"entry", p.Entry}, {"out_dir", p.OutDir}} {
		if field[1] == "" {
			return ferrors.ValidationError(field[0] + " must not be empty").Build()
		}
	}
	if filepath.IsAbs(p.SrcDir) {
		return ferrors.ValidationError("src_dir must be relative to the project root").
			WithContext("src_dir", p.SrcDir).
			Build()
	}
	seen := make(map[string]struct{}, len(p.VendorGroups))
	for _, g := range p.VendorGroups {
		if g.Name == "" || len(g.Packages) == 0 {
			return ferrors.ValidationError("vendor group needs a name and at least one package").
				WithContext("group", g.Name).
				Build()
		}
		if _, dup := seen[g.Name]; dup {
			return ferrors.ValidationError("duplicate vendor group").
				WithContext("group", g.Name).
				Build()
		}
		seen[g.Name] = struct{}{}
	}
	return nil
}

// Path resolves rel against the project root.
func (p *Project) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.Root, rel)
}

// BuildDependencies returns the files whose contents invalidate the transform cache.
func (p *Project) BuildDependencies() map[string][]string {
	deps := map[string][]string{
		"tsconfig": {p.Path("tsconfig.json")},
	}
	if p.File != "" {
		deps["config"] = []string{p.File}
	}
	return deps
}
