// Package rewrite provides the ordered store-path rewrite pipeline.
package rewrite

import (
	"bytes"
	"strings"
)

// StorePrefix is the literal prefix every absolute store path starts with.
const StorePrefix = "/nix/store/"

// Mapping substitutes one store-entry basename for another. Both sides
// must have the same byte length so a substitution never shifts offsets
// in surrounding content.
type Mapping struct {
	Old string
	New string
}

// Rules holds the rewrite configuration for one stream. Immutable after
// construction; safe for concurrent use.
type Rules struct {
	// Prefix is prepended to store paths (may be empty).
	Prefix string

	// OldLibroot/NewLibroot replace one store path with another before
	// any other rewriting. Either both are set or both are empty.
	OldLibroot string
	NewLibroot string

	// Mappings are applied in order, each replacing every occurrence.
	Mappings []Mapping

	// ExtraPatterns are additional prefixes (e.g. "/nix/var/") that also
	// receive Prefix inside text string/comment spans.
	ExtraPatterns []string

	oldLibBase string
	newLibBase string
}

// NewRules builds a rule set. Libroot basenames are precomputed for the
// relative-symlink variant.
func NewRules(prefix, oldLibroot, newLibroot string) *Rules {
	r := &Rules{
		Prefix:     prefix,
		OldLibroot: oldLibroot,
		NewLibroot: newLibroot,
	}
	if oldLibroot != "" {
		r.oldLibBase = baseName(oldLibroot)
		r.newLibBase = baseName(newLibroot)
	}
	return r
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// LibrootBasenames returns the basenames of the configured library roots,
// or empty strings if no libroot is configured.
func (r *Rules) LibrootBasenames() (old, new string) {
	return r.oldLibBase, r.newLibBase
}

// ApplyMappings replaces every mapped basename, in mapping order.
func (r *Rules) ApplyMappings(s string) string {
	for _, m := range r.Mappings {
		if strings.Contains(s, m.Old) {
			s = strings.ReplaceAll(s, m.Old, m.New)
		}
	}
	return s
}

// TransformStorePath applies the rewrite pipeline to a path-bearing
// string, strictly in order: libroot substitution, then hash mappings,
// then prefix prepend. The order matters: a mapping rewrites the hash
// embedded in the libroot basename, after which the libroot could no
// longer match; the prefix goes last so nothing re-interprets the result
// as a store path.
func (r *Rules) TransformStorePath(p string) string {
	if r.OldLibroot != "" && strings.Contains(p, r.OldLibroot) {
		p = strings.ReplaceAll(p, r.OldLibroot, r.NewLibroot)
	}
	p = r.ApplyMappings(p)
	if r.Prefix != "" && strings.HasPrefix(p, StorePrefix) && !strings.HasPrefix(p, r.Prefix) {
		p = r.Prefix + p
	}
	return p
}

// TransformSymlink rewrites a symlink target. Absolute targets go through
// the standard pipeline. A relative target that does not contain the full
// old libroot but does contain its basename (e.g. "../<hash>-glibc/lib/x")
// has the basename substituted first, then the standard pipeline runs.
func (r *Rules) TransformSymlink(target string) string {
	if r.OldLibroot != "" && !strings.Contains(target, r.OldLibroot) &&
		r.oldLibBase != "" && strings.Contains(target, r.oldLibBase) {
		target = strings.ReplaceAll(target, r.oldLibBase, r.newLibBase)
	}
	return r.TransformStorePath(target)
}

// AlreadyPrefixed reports whether the occurrence of a pattern at pos in
// text is immediately preceded by Prefix. Used as the idempotence guard
// when inserting the prefix into unstructured text: running the rewrite
// over its own output must be a no-op.
func (r *Rules) AlreadyPrefixed(text string, pos int) bool {
	n := len(r.Prefix)
	if n == 0 {
		return true
	}
	return pos >= n && text[pos-n:pos] == r.Prefix
}

// Active reports whether any rule could change any input. With an empty
// rule set the whole pipeline is the identity.
func (r *Rules) Active() bool {
	return r.Prefix != "" || r.OldLibroot != "" || len(r.Mappings) > 0 || len(r.ExtraPatterns) > 0
}

// SweepMappings applies the hash mappings as a literal byte substitution
// over an entire payload. Safe on arbitrary content because mappings are
// length-preserving. Returns the input slice unchanged (and false) when
// nothing matched.
func (r *Rules) SweepMappings(content []byte) ([]byte, bool) {
	if len(r.Mappings) == 0 {
		return content, false
	}
	out := content
	modified := false
	for _, m := range r.Mappings {
		if !bytes.Contains(out, []byte(m.Old)) {
			continue
		}
		if !modified {
			out = append([]byte(nil), content...)
			modified = true
		}
		replaceAllInPlace(out, []byte(m.Old), []byte(m.New))
	}
	return out, modified
}

// replaceAllInPlace overwrites every occurrence of old with new. Both
// must have equal length.
func replaceAllInPlace(b, old, new []byte) {
	for pos := 0; ; {
		idx := bytes.Index(b[pos:], old)
		if idx < 0 {
			return
		}
		pos += idx
		copy(b[pos:], new)
		pos += len(new)
	}
}
