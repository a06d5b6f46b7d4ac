// Package naming renders output filename templates such as
// "js/[name].[contenthash:8].js" and "[name]__[local]--[hash:base64:5]".
package naming

import (
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// DefaultHashLength applies to [hash] and [contenthash] without an explicit length.
const DefaultHashLength = 20

// Vars are the substitutions available to a template.
type Vars struct {
	Name  string
	ID    string
	Ext   string
	Local string
	// Content feeds [contenthash] and [hash].
	Content []byte
}

var placeholder = regexp.MustCompile(`\[(name|id|ext|local|contenthash|hash|fullhash)(?::(base64|hex))?(?::(\d+))?\]`)

// Render substitutes every placeholder in template.
func Render(template string, v Vars) string {
	var digest []byte
	sum := func() []byte {
		if digest == nil {
			d := blake3.Sum256(v.Content)
			digest = d[:]
		}
		return digest
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		switch parts[1] {
		case "name":
			return v.Name
		case "id":
			return v.ID
		case "ext":
			return v.Ext
		case "local":
			return v.Local
		}
		length := DefaultHashLength
		if parts[3] != "" {
			if n, err := strconv.Atoi(parts[3]); err == nil && n > 0 {
				length = n
			}
		}
		var encoded string
		if parts[2] == "base64" {
			encoded = base64.RawURLEncoding.EncodeToString(sum())
		} else {
			encoded = hex.EncodeToString(sum())
		}
		if length < len(encoded) {
			encoded = encoded[:length]
		}
		return encoded
	})
}

// HasContentHash reports whether template output depends on content.
func HasContentHash(template string) bool {
	return strings.Contains(template, "[contenthash") || strings.Contains(template, "[hash") ||
		strings.Contains(template, "[fullhash")
}

// SplitExt splits a file path into base name without extension and extension with dot.
func SplitExt(path string) (name, ext string) {
	base := filepath.Base(path)
	ext = filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

// Hash returns the hex blake3 digest of data truncated to n characters.
func Hash(data []byte, n int) string {
	d := blake3.Sum256(data)
	s := hex.EncodeToString(d[:])
	if n > 0 && n < len(s) {
		return s[:n]
	}
	return s
}
