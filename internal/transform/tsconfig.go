package transform

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Tsconfig carries the compiler options the script processor honours.
type Tsconfig struct {
	// Raw is the filtered tsconfig JSON handed to the transpiler.
	Raw             string
	JSX             string
	JSXImportSource string
}

// tsconfigKeys are the compilerOptions that affect per-file transpilation.
var tsconfigKeys = []string{
	"jsx",
	"jsxFactory",
	"jsxFragmentFactory",
	"jsxImportSource",
	"experimentalDecorators",
	"useDefineForClassFields",
	"importsNotUsedAsValues",
	"preserveValueImports",
	"verbatimModuleSyntax",
	"alwaysStrict",
}

// LoadTsconfig reads tsconfig.json from root. The file may contain comments
// and trailing commas. A missing file yields an empty Tsconfig.
func LoadTsconfig(root string) (Tsconfig, error) {
	path := filepath.Join(root, "tsconfig.json")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Tsconfig{}, nil
	}
	if err != nil {
		return Tsconfig{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read tsconfig").
			WithContext("path", path).
			Build()
	}

	var doc struct {
		CompilerOptions map[string]any `json:"compilerOptions"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return Tsconfig{}, ferrors.WrapError(err, ferrors.CategoryConfig, "parse tsconfig").
			WithContext("path", path).
			Build()
	}

	filtered := make(map[string]any)
	for _, k := range tsconfigKeys {
		if v, ok := doc.CompilerOptions[k]; ok {
			filtered[k] = v
		}
	}
	raw, err := json.Marshal(map[string]any{"compilerOptions": filtered})
	if err != nil {
		return Tsconfig{}, ferrors.WrapError(err, ferrors.CategoryInternal, "encode tsconfig").Build()
	}

	tc := Tsconfig{Raw: string(raw)}
	tc.JSX, _ = filtered["jsx"].(string)
	tc.JSXImportSource, _ = filtered["jsxImportSource"].(string)
	return tc, nil
}
