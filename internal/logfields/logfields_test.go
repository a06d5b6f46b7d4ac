package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"BuildID", KeyBuildID, "b1", BuildID("b1")},
		{"Mode", KeyMode, "production", Mode("production")},
		{"Env", KeyEnv, "staging", Env("staging")},
		{"Entry", KeyEntry, "app", Entry("app")},
		{"Module", KeyModule, "./src/index.tsx", Module("./src/index.tsx")},
		{"Chunk", KeyChunk, "vendors", Chunk("vendors")},
		{"Asset", KeyAsset, "js/app.js", Asset("js/app.js")},
		{"Rule", KeyRule, "scripts", Rule("scripts")},
		{"Plugin", KeyPlugin, "html", Plugin("html")},
		{"Phase", KeyPhase, "emit", Phase("emit")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Addr", KeyAddr, "localhost:3000", Addr("localhost:3000")},
	}
	for _, c := range cases {
		if c.attr.Key != c.attrKey {
			t.Fatalf("%s key mismatch: got %s want %s", c.name, c.attr.Key, c.attrKey)
		}
		if c.attr.Value.String() != c.attrVal {
			t.Fatalf("%s value mismatch: got %s want %s", c.name, c.attr.Value.String(), c.attrVal)
		}
	}
}

func TestDurationAndError(t *testing.T) {
	d := Duration(1500 * time.Microsecond)
	if d.Key != KeyDurationMS || d.Value.Float64() != 1.5 {
		t.Fatalf("unexpected duration attr %v", d)
	}
	if e := Error(nil); e.Value.String() != "" {
		t.Fatalf("nil error should render empty, got %q", e.Value.String())
	}
	if e := Error(errors.New("boom")); e.Value.String() != "boom" {
		t.Fatalf("unexpected error attr %q", e.Value.String())
	}
}
