// Package htmldoc produces the HTML entry document from a template by
// injecting the built stylesheets, scripts and favicon.
package htmldoc

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Options controls Render.
type Options struct {
	Template   string
	Favicon    string
	PublicPath string
	// Scripts and Styles are output-relative file names in load order.
	Scripts []string
	Styles  []string
	// Inject adds the tags; when false the template is only copied.
	Inject bool
	Minify bool
	// MinifyInline, when set, rewrites inline <script> ("js") and <style> ("css") bodies.
	MinifyInline func(lang, src string) (string, error)
}

// File is an extra file emitted alongside the document.
type File struct {
	Name    string
	Content []byte
}

// Document is the rendered entry page.
type Document struct {
	HTML    []byte
	Favicon *File
}

// Render reads the template and returns the finished document. A missing
// template is a resource error; a missing favicon is skipped.
func Render(opts Options) (*Document, error) {
	raw, err := os.ReadFile(opts.Template)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryResource, "read HTML template").
			WithContext("template", opts.Template).
			Build()
	}
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryResource, "parse HTML template").
			WithContext("template", opts.Template).
			Build()
	}

	out := &Document{}
	if opts.Favicon != "" {
		content, err := os.ReadFile(opts.Favicon)
		switch {
		case err == nil:
			out.Favicon = &File{Name: filepath.Base(opts.Favicon), Content: content}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, ferrors.WrapError(err, ferrors.CategoryResource, "read favicon").
				WithContext("favicon", opts.Favicon).
				Build()
		}
	}

	if opts.Inject {
		head := find(doc, atom.Head)
		if head == nil {
			return nil, ferrors.ResourceError("HTML template has no head").WithContext("template", opts.Template).Build()
		}
		if out.Favicon != nil {
			head.AppendChild(element(atom.Link, "rel", "icon", "href", opts.PublicPath+out.Favicon.Name))
		}
		for _, s := range opts.Styles {
			head.AppendChild(element(atom.Link, "href", opts.PublicPath+s, "rel", "stylesheet"))
		}
		for _, s := range opts.Scripts {
			head.AppendChild(element(atom.Script, "defer", "", "src", opts.PublicPath+s))
		}
	}

	if opts.Minify {
		if err := minify(doc, opts.MinifyInline); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("render HTML: %w", err)
	}
	out.HTML = buf.Bytes()
	return out, nil
}

// InjectScript inserts a script tag with the given source at the end of body.
// It is used to add the dev client to served documents.
func InjectScript(page []byte, src string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	body := find(doc, atom.Body)
	if body == nil {
		return page, nil
	}
	body.AppendChild(element(atom.Script, "src", src))
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("render HTML: %w", err)
	}
	return buf.Bytes(), nil
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

// minify removes comments and redundant attributes, collapses whitespace
// outside raw-text elements and optionally minifies inline code.
func minify(n *html.Node, inline func(lang, src string) (string, error)) error {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.CommentNode:
			n.RemoveChild(c)
		case html.TextNode:
			if preserves(n) {
				break
			}
			collapsed := collapse(c.Data)
			if strings.TrimSpace(collapsed) == "" && !inlineContext(n) {
				n.RemoveChild(c)
			} else {
				c.Data = collapsed
			}
		case html.ElementNode:
			c.Attr = pruneAttrs(c)
			if inline != nil && (c.DataAtom == atom.Script || c.DataAtom == atom.Style) && c.FirstChild != nil && c.FirstChild.Type == html.TextNode {
				lang := "js"
				if c.DataAtom == atom.Style {
					lang = "css"
				}
				if c.DataAtom != atom.Script || attr(c, "type") == "" || attr(c, "type") == "module" {
					minified, err := inline(lang, c.FirstChild.Data)
					if err != nil {
						return ferrors.WrapError(err, ferrors.CategoryCompile, "minify inline "+c.Data).Build()
					}
					c.FirstChild.Data = minified
				}
			}
			if err := minify(c, inline); err != nil {
				return err
			}
		}
		c = next
	}
	return nil
}

func preserves(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Pre, atom.Textarea, atom.Script, atom.Style:
		return true
	}
	return false
}

// inlineContext reports whether whitespace between children of n can be significant.
func inlineContext(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Html, atom.Head, atom.Body, atom.Ul, atom.Ol, atom.Table, atom.Tbody, atom.Thead, atom.Tr, atom.Select:
		return false
	}
	return n.Type == html.ElementNode
}

func collapse(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '\f' {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func pruneAttrs(n *html.Node) []html.Attribute {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		switch {
		case a.Key == "type" && n.DataAtom == atom.Script && strings.EqualFold(a.Val, "text/javascript"):
			continue
		case a.Key == "type" && (n.DataAtom == atom.Style || n.DataAtom == atom.Link) && strings.EqualFold(a.Val, "text/css"):
			continue
		case a.Val == "" && (a.Key == "class" || a.Key == "id" || a.Key == "style" || a.Key == "title"):
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
