// Package resolve maps module requests to files on disk.
//
// Lookup order: alias prefixes (longest first), relative and absolute paths,
// then each configured search root. Absolute roots are searched directly;
// relative roots such as node_modules are searched in every ancestor of the
// importing directory. A candidate path is tried as a file, then with each
// extension appended, then as a package or index directory.
package resolve

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

type alias struct {
	name   string
	target string
}

// Resolver resolves requests against one configuration. It is safe for concurrent use.
type Resolver struct {
	aliases    []alias
	extensions []string
	roots      []string

	mu       sync.Mutex
	packages map[string]*packageJSON
	stats    map[string]os.FileInfo
}

type packageJSON struct {
	Name    string `json:"name"`
	Main    string `json:"main"`
	Module  string `json:"module"`
	Browser any    `json:"browser"`
}

// New returns a Resolver for the resolution section of a configuration.
func New(r config.Resolution) *Resolver {
	aliases := make([]alias, 0, len(r.Alias))
	for name, target := range r.Alias {
		aliases = append(aliases, alias{name: name, target: target})
	}
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i].name) != len(aliases[j].name) {
			return len(aliases[i].name) > len(aliases[j].name)
		}
		return aliases[i].name < aliases[j].name
	})
	return &Resolver{
		aliases:    aliases,
		extensions: append([]string(nil), r.Extensions...),
		roots:      append([]string(nil), r.Roots...),
		packages:   make(map[string]*packageJSON),
		stats:      make(map[string]os.FileInfo),
	}
}

// Resolve returns the absolute file path for request imported from fromDir.
func (r *Resolver) Resolve(request, fromDir string) (string, error) {
	if request == "" {
		return "", notFound(request, fromDir)
	}
	request = r.applyAlias(request)

	if isPathRequest(request) {
		p := request
		if !filepath.IsAbs(p) {
			p = filepath.Join(fromDir, filepath.FromSlash(request))
		}
		if found, ok := r.tryPath(p); ok {
			return found, nil
		}
		return "", notFound(request, fromDir)
	}

	for _, root := range r.roots {
		if filepath.IsAbs(root) {
			if found, ok := r.tryPath(filepath.Join(root, filepath.FromSlash(request))); ok {
				return found, nil
			}
			continue
		}
		for dir := fromDir; ; {
			if found, ok := r.tryPath(filepath.Join(dir, root, filepath.FromSlash(request))); ok {
				return found, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return "", notFound(request, fromDir)
}

// IsPackageRequest reports whether request names a package rather than a path.
func IsPackageRequest(request string) bool {
	return !isPathRequest(request)
}

func isPathRequest(request string) bool {
	return strings.HasPrefix(request, "./") || strings.HasPrefix(request, "../") ||
		request == "." || request == ".." || filepath.IsAbs(request)
}

func (r *Resolver) applyAlias(request string) string {
	for _, a := range r.aliases {
		if request == a.name {
			return a.target
		}
		if strings.HasPrefix(request, a.name+"/") {
			return filepath.Join(a.target, filepath.FromSlash(request[len(a.name)+1:]))
		}
	}
	return request
}

func (r *Resolver) tryPath(p string) (string, bool) {
	if found, ok := r.tryFile(p); ok {
		return found, true
	}
	return r.tryDir(p)
}

func (r *Resolver) tryFile(p string) (string, bool) {
	if info := r.stat(p); info != nil && info.Mode().IsRegular() {
		return p, true
	}
	for _, ext := range r.extensions {
		if info := r.stat(p + ext); info != nil && info.Mode().IsRegular() {
			return p + ext, true
		}
	}
	return "", false
}

func (r *Resolver) tryDir(dir string) (string, bool) {
	info := r.stat(dir)
	if info == nil || !info.IsDir() {
		return "", false
	}
	if pkg := r.readPackage(dir); pkg != nil {
		for _, field := range pkg.entryFields() {
			target := filepath.Join(dir, filepath.FromSlash(field))
			if found, ok := r.tryFile(target); ok {
				return found, true
			}
			if found, ok := r.tryIndex(target); ok {
				return found, true
			}
		}
	}
	return r.tryIndex(dir)
}

func (r *Resolver) tryIndex(dir string) (string, bool) {
	for _, ext := range r.extensions {
		p := filepath.Join(dir, "index"+ext)
		if info := r.stat(p); info != nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

func (p *packageJSON) entryFields() []string {
	var fields []string
	if s, ok := p.Browser.(string); ok && s != "" {
		fields = append(fields, s)
	}
	if p.Module != "" {
		fields = append(fields, p.Module)
	}
	if p.Main != "" {
		fields = append(fields, p.Main)
	}
	return fields
}

func (r *Resolver) stat(p string) os.FileInfo {
	r.mu.Lock()
	info, cached := r.stats[p]
	r.mu.Unlock()
	if cached {
		return info
	}
	info, err := os.Stat(p)
	if err != nil {
		info = nil
	}
	r.mu.Lock()
	r.stats[p] = info
	r.mu.Unlock()
	return info
}

func (r *Resolver) readPackage(dir string) *packageJSON {
	r.mu.Lock()
	pkg, cached := r.packages[dir]
	r.mu.Unlock()
	if cached {
		return pkg
	}
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err == nil {
		pkg = &packageJSON{}
		if json.Unmarshal(data, pkg) != nil {
			pkg = nil
		}
	}
	r.mu.Lock()
	r.packages[dir] = pkg
	r.mu.Unlock()
	return pkg
}

// Invalidate drops cached filesystem lookups; watchers call it before a rebuild.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.packages)
	clear(r.stats)
}

// PackageName returns the node_modules package that contains path, if any.
func PackageName(path string) string {
	slashed := filepath.ToSlash(path)
	idx := strings.LastIndex(slashed, "/node_modules/")
	if idx < 0 {
		return ""
	}
	rest := slashed[idx+len("/node_modules/"):]
	parts := strings.SplitN(rest, "/", 3)
	if strings.HasPrefix(parts[0], "@") && len(parts) > 1 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func notFound(request, fromDir string) error {
	return ferrors.NewError(ferrors.CategoryNotFound, "module not found").
		WithContext("request", request).
		WithContext("from", fromDir).
		Build()
}
