package transform

import "git.home.luguber.info/inful/frontbuild/internal/diag"

// Kind classifies a transformed module.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
	KindAsset  Kind = "asset"
	KindJSON   Kind = "json"
)

// Module is the output of running one file through its rule pipeline.
// Code is always a CommonJS function body.
type Module struct {
	Path string `cbor:"1,keyasint"`
	Kind Kind   `cbor:"2,keyasint"`
	Rule string `cbor:"3,keyasint,omitempty"`

	Code []byte `cbor:"4,keyasint"`
	// CSS holds stylesheet text collected for extraction into chunk stylesheets.
	CSS []byte `cbor:"5,keyasint,omitempty"`
	// Requests lists require() specifiers in source order, deduplicated.
	Requests []string `cbor:"6,keyasint,omitempty"`
	// URLRefs are asset references inside Code or CSS awaiting their public URL.
	URLRefs []URLRef `cbor:"7,keyasint,omitempty"`

	// Emit is set for asset modules written as separate files.
	Emit *EmittedFile `cbor:"8,keyasint,omitempty"`
	// InlineURL is the data URL of an inlined asset.
	InlineURL string `cbor:"12,keyasint,omitempty"`
	// Size is the source size in bytes, used for chunk-size decisions.
	Size int64 `cbor:"9,keyasint"`
	// Hot marks modules that accept their own updates.
	Hot bool `cbor:"10,keyasint,omitempty"`

	Diagnostics diag.List `cbor:"11,keyasint,omitempty"`

	// Inputs are other files whose content was inlined into this module.
	Inputs []Input `cbor:"13,keyasint,omitempty"`
}

// Input records the content digest an inlined file had when the module was built.
type Input struct {
	Path   string `cbor:"1,keyasint"`
	Digest string `cbor:"2,keyasint"`
}

// URLRef ties a placeholder token to the module request it stands for.
type URLRef struct {
	Placeholder string `cbor:"1,keyasint"`
	Request     string `cbor:"2,keyasint"`
}

// EmittedFile is an asset written next to the bundles.
type EmittedFile struct {
	Name    string `cbor:"1,keyasint"`
	Content []byte `cbor:"2,keyasint"`
}

// Failed reports whether the module carries error diagnostics.
func (m *Module) Failed() bool {
	return m.Diagnostics.HasErrors()
}
