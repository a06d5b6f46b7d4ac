package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyMode       = "mode"
	KeyEnv        = "env"
	KeyEntry      = "entry"
	KeyModule     = "module"
	KeyChunk      = "chunk"
	KeyAsset      = "asset"
	KeyRule       = "rule"
	KeyPlugin     = "plugin"
	KeyPhase      = "phase"
	KeyPath       = "path"
	KeyAddr       = "addr"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr   { return slog.String(KeyBuildID, id) }
func Mode(m string) slog.Attr       { return slog.String(KeyMode, m) }
func Env(name string) slog.Attr     { return slog.String(KeyEnv, name) }
func Entry(name string) slog.Attr   { return slog.String(KeyEntry, name) }
func Module(id string) slog.Attr    { return slog.String(KeyModule, id) }
func Chunk(name string) slog.Attr   { return slog.String(KeyChunk, name) }
func Asset(name string) slog.Attr   { return slog.String(KeyAsset, name) }
func Rule(key string) slog.Attr     { return slog.String(KeyRule, key) }
func Plugin(name string) slog.Attr  { return slog.String(KeyPlugin, name) }
func Phase(name string) slog.Attr   { return slog.String(KeyPhase, name) }
func Path(p string) slog.Attr       { return slog.String(KeyPath, p) }
func Addr(a string) slog.Attr       { return slog.String(KeyAddr, a) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
