package compiler

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/naming"
)

// snapshot remembers what the previous successful run served.
type snapshot struct {
	// factories maps module IDs to a digest of their rendered factory.
	factories map[string]string
	// layout is a digest of the chunk structure; a change forces a reload.
	layout string
}

// hotUpdate compares the run with the previous snapshot and renders the
// update script. The first run only records the snapshot.
func (comp *Compilation) hotUpdate(hash string) *HotUpdate {
	byID := comp.byID()
	current := &snapshot{factories: make(map[string]string, len(byID))}
	sources := make(map[string]string, len(byID))
	for id, rec := range byID {
		src := comp.factory(rec)
		sources[id] = src
		current.factories[id] = naming.Hash([]byte(src), 16)
	}
	current.layout = comp.layoutDigest()

	comp.c.mu.Lock()
	previous := comp.c.previous
	comp.c.previous = current
	comp.c.mu.Unlock()
	if previous == nil {
		return nil
	}

	update := &HotUpdate{Hash: hash, Reload: previous.layout != current.layout}
	for _, id := range slices.Sorted(maps.Keys(current.factories)) {
		if previous.factories[id] != current.factories[id] {
			update.Modules = append(update.Modules, id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(previous.factories)) {
		if _, ok := current.factories[id]; !ok {
			update.Removed = append(update.Removed, id)
		}
	}
	if update.Reload || (len(update.Modules) == 0 && len(update.Removed) == 0) {
		return update
	}

	var b bytes.Buffer
	b.WriteString("self.__fb_hot__ && self.__fb_hot__.apply({modules: {\n")
	for i, id := range update.Modules {
		if i > 0 {
			b.WriteString(",\n")
		}
		key, _ := json.Marshal(id)
		b.Write(key)
		b.WriteString(": ")
		b.WriteString(sources[id])
	}
	removed, _ := json.Marshal(update.Removed)
	if update.Removed == nil {
		removed = []byte("[]")
	}
	b.WriteString("\n}, removed: ")
	b.Write(removed)
	b.WriteString("});\n")
	update.Script = b.Bytes()
	return update
}

func (comp *Compilation) layoutDigest() string {
	var b strings.Builder
	for _, ch := range comp.plan.Chunks {
		b.WriteString(ch.Name)
		b.WriteByte(':')
		b.WriteString(string(ch.Kind))
		b.WriteByte('\n')
	}
	for _, name := range comp.EntryNames() {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(comp.entrypoints[name], ","))
		b.WriteByte('\n')
	}
	return naming.Hash([]byte(b.String()), 16)
}
