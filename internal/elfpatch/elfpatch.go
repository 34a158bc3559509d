// Package elfpatch rewrites the dynamic interpreter and RPATH/RUNPATH
// of in-memory ELF images. The transform is total: any parse or layout
// failure yields the original image so the surrounding stream keeps
// flowing.
package elfpatch

import (
	"strings"

	"github.com/Wenri/patchnar/internal/rewrite"
)

// Rewriter patches ELF payloads under one rule set. Stateless apart from
// the shared read-only rules; safe for concurrent use.
type Rewriter struct {
	rules *rewrite.Rules
}

// NewRewriter creates a rewriter.
func NewRewriter(rules *rewrite.Rules) *Rewriter {
	return &Rewriter{rules: rules}
}

// Patch applies the rewrite recipe: transform the interpreter, then each
// RPATH entry. Returns the possibly-new image and whether it changed.
// A non-nil error means the original payload is being returned.
func (rw *Rewriter) Patch(payload []byte) ([]byte, bool, error) {
	f, err := Open(payload)
	if err != nil {
		return payload, false, err
	}

	changed := false

	interp, err := f.Interpreter()
	if err != nil {
		return payload, false, err
	}
	if interp != "" {
		if ni := rw.rules.TransformStorePath(interp); ni != interp {
			if err := f.SetInterpreter(ni); err != nil {
				return payload, false, err
			}
			changed = true
		}
	}

	rpath, err := f.RPath()
	if err != nil {
		// Shared objects without a dynamic section, or ones missing
		// DT_STRTAB, simply have no rpath to rewrite.
		return f.Bytes(), changed, nil
	}
	if rpath != "" {
		if nr := rw.transformRPath(rpath); nr != rpath {
			if err := f.SetRPath(nr); err != nil {
				return payload, false, err
			}
			changed = true
		}
	}

	return f.Bytes(), changed, nil
}

// transformRPath rewrites each colon-separated entry independently.
func (rw *Rewriter) transformRPath(rpath string) string {
	entries := strings.Split(rpath, ":")
	for i, e := range entries {
		if e == "" {
			continue
		}
		entries[i] = rw.rules.TransformStorePath(e)
	}
	return strings.Join(entries, ":")
}
