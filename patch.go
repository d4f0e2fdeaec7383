package mpq

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
	"github.com/meigma/mpq/internal/patch"
)

// patchLayer is an archive attached over a base archive.
type patchLayer struct {
	archive *Archive
	prefix  string
}

// name returns the name under which the layer stores name.
func (l patchLayer) name(name string) string {
	if l.prefix == "" {
		return name
	}
	return strings.TrimSuffix(l.prefix, `\`) + `\` + name
}

// AttachPatch layers the patch archive p over a. Archives attached later
// take precedence. p stores its files under prefix, or under the prefix set
// with WithPatchPrefix when prefix is empty.
//
// Reading a name then walks the layers in order: a plain file in a layer
// replaces the version read so far, and a patch file is applied to it. The
// caller keeps ownership of p and must not close it while a is in use.
func (a *Archive) AttachPatch(p *Archive, prefix string) error {
	switch {
	case a.closed || p.closed:
		return fmt.Errorf("attach patch: %w", fs.ErrClosed)
	case p == a:
		return fmt.Errorf("attach an archive to itself: %w", mpqtype.ErrNotSupported)
	}
	if prefix == "" {
		prefix = p.cfg.patchPrefix
	}
	a.patches = append(a.patches, patchLayer{archive: p, prefix: prefix})
	a.log().Debug("patch archive attached", "source", p.SourceID(), "prefix", prefix, "layers", len(a.patches))
	return nil
}

// patchedName reports whether any attached layer stores name.
func (a *Archive) patchedName(name string) bool {
	for _, l := range a.patches {
		if _, ok := l.archive.find(l.name(name)); ok {
			return true
		}
	}
	return false
}

// readPatched returns the newest version of name across the base archive
// and its patch layers, together with the entry of the layer that provided
// it. Any failed patch step fails the whole read.
func (a *Archive) readPatched(name string) ([]byte, Entry, error) {
	var (
		chain *patch.Chain
		top   Entry
	)
	if ord, ok := a.find(name); ok && !a.table.Entries[ord].Has(format.FlagPatchFile) {
		base, err := a.readEntry(ord)
		if err != nil {
			return nil, Entry{}, err
		}
		chain = patch.NewChain(base, a.log())
		top = a.entry(ord)
	}

	for i, l := range a.patches {
		p := l.archive
		ord, ok := p.find(l.name(name))
		if !ok {
			continue
		}
		data, err := p.readEntry(ord)
		if err != nil {
			return nil, Entry{}, fmt.Errorf("patch layer %d: %w", i, err)
		}
		top = p.entry(ord)

		if !p.table.Entries[ord].Has(format.FlagPatchFile) {
			a.log().Debug("patch layer replaces file", "layer", i, "name", name)
			chain = patch.NewChain(data, a.log())
			continue
		}
		if chain == nil {
			return nil, Entry{}, fmt.Errorf("patch layer %d: no base version of %q: %w", i, name, mpqtype.ErrNotFound)
		}
		h, err := patch.ParseHeader(data)
		if err != nil {
			return nil, Entry{}, fmt.Errorf("patch layer %d: %w", i, err)
		}
		if err := a.checkSize(int64(h.SizeAfter)); err != nil {
			return nil, Entry{}, fmt.Errorf("patch layer %d: %w", i, err)
		}
		if err := chain.Step(data); err != nil {
			return nil, Entry{}, fmt.Errorf("patch layer %d: %w", i, err)
		}
	}
	if chain == nil {
		return nil, Entry{}, fmt.Errorf("%q: %w", name, mpqtype.ErrNotFound)
	}

	out := chain.Result()
	top.Size = int64(len(out))
	top.Flags &^= format.FlagPatchFile
	return out, top, nil
}
