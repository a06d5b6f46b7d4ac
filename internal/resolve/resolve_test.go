package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

func touch(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func newFixture(t *testing.T) (string, *Resolver) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	touch(t, root, "src/index.tsx", "")
	touch(t, root, "src/components/Button.tsx", "")
	touch(t, root, "src/components/index.ts", "")
	touch(t, root, "src/pages/home/index.tsx", "")
	touch(t, root, "src/utils/format.ts", "")
	touch(t, root, "node_modules/react/package.json", `{"name":"react","main":"index.js"}`)
	touch(t, root, "node_modules/react/index.js", "")
	touch(t, root, "node_modules/lodash-es/package.json", `{"name":"lodash-es","module":"lodash.js","main":"lodash.cjs"}`)
	touch(t, root, "node_modules/lodash-es/lodash.js", "")
	touch(t, root, "node_modules/lodash-es/lodash.cjs", "")
	touch(t, root, "node_modules/@scope/pkg/lib/index.js", "")

	r := New(config.Resolution{
		Alias: map[string]string{
			"@":           src,
			"@components": filepath.Join(src, "components"),
		},
		Extensions: []string{".js", ".jsx", ".ts", ".tsx", ".json"},
		Roots:      []string{src, "node_modules"},
	})
	return root, r
}

func TestResolve(t *testing.T) {
	root, r := newFixture(t)
	from := filepath.Join(root, "src", "pages", "home")

	tests := []struct {
		name    string
		request string
		want    string
	}{
		{"longest alias wins", "@components/Button", "src/components/Button.tsx"},
		{"alias directory index", "@components", "src/components/index.ts"},
		{"short alias", "@/utils/format", "src/utils/format.ts"},
		{"relative with extension probing", "../../utils/format", "src/utils/format.ts"},
		{"absolute search root", "utils/format", "src/utils/format.ts"},
		{"package main", "react", "node_modules/react/index.js"},
		{"package module field first", "lodash-es", "node_modules/lodash-es/lodash.js"},
		{"scoped package deep path", "@scope/pkg/lib", "node_modules/@scope/pkg/lib/index.js"},
		{"current directory index", ".", "src/pages/home/index.tsx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.request, from)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.want)), got)
		})
	}
}

func TestResolveNotFound(t *testing.T) {
	root, r := newFixture(t)

	_, err := r.Resolve("./missing", filepath.Join(root, "src"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))

	_, err = r.Resolve("left-pad", filepath.Join(root, "src"))
	require.Error(t, err)
}

func TestInvalidateSeesNewFiles(t *testing.T) {
	root, r := newFixture(t)
	from := filepath.Join(root, "src")

	_, err := r.Resolve("./late", from)
	require.Error(t, err)

	touch(t, root, "src/late.ts", "")
	_, err = r.Resolve("./late", from)
	require.Error(t, err, "negative lookups are cached")

	r.Invalidate()
	got, err := r.Resolve("./late", from)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "late.ts"), got)
}

func TestPackageName(t *testing.T) {
	assert.Equal(t, "react", PackageName("/p/node_modules/react/index.js"))
	assert.Equal(t, "@ant-design/icons", PackageName("/p/node_modules/@ant-design/icons/lib/a.js"))
	assert.Equal(t, "b", PackageName("/p/node_modules/a/node_modules/b/x.js"))
	assert.Empty(t, PackageName("/p/src/a.js"))
	assert.True(t, IsPackageRequest("react"))
	assert.False(t, IsPackageRequest("./a"))
}
