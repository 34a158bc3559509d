// Package textpatch rewrites store paths inside textual payloads. The
// structural pass edits string-literal and comment spans (shifting
// offsets); the final basename sweep is length-preserving and runs over
// the whole payload.
package textpatch

import (
	"bytes"
	"strings"

	"github.com/Wenri/patchnar/internal/lang"
	"github.com/Wenri/patchnar/internal/rewrite"
	"github.com/Wenri/patchnar/internal/token"
)

// Patcher applies the text rewrite for one worker. Not safe for
// concurrent use (the tokenizer holds parser state); create one per
// worker.
type Patcher struct {
	rules *rewrite.Rules
	tok   *token.Tokenizer
}

// New creates a patcher over the given rules.
func New(rules *rewrite.Rules) *Patcher {
	return &Patcher{rules: rules, tok: token.New()}
}

// Result reports what PatchSource did to a payload.
type Result struct {
	Content  []byte
	Changed  bool
	FellBack bool
}

// PatchSource tokenizes payload under g and rewrites every string and
// comment span, then runs the basename sweep. When tokenization fails
// the patcher downgrades to shebang-only mode.
func (p *Patcher) PatchSource(g lang.Grammar, payload []byte) Result {
	spans, err := p.tok.Tokenize(g, payload)
	if err != nil {
		out, changed := p.PatchShebangOnly(payload)
		return Result{Content: out, Changed: changed, FellBack: true}
	}

	out, changed := p.patchSpans(payload, spans)
	out, swept := p.rules.SweepMappings(out)
	return Result{Content: out, Changed: changed || swept}
}

// PatchShebangOnly rewrites the first line when it is a shebang, then
// runs the basename sweep over the whole payload.
func (p *Patcher) PatchShebangOnly(payload []byte) ([]byte, bool) {
	out := payload
	changed := false
	if lang.HasShebang(payload) {
		end := len(payload)
		if nl := bytes.IndexByte(payload, '\n'); nl >= 0 {
			end = nl
		}
		line := string(payload[:end])
		if patched := p.transformChunk(line); patched != line {
			buf := make([]byte, 0, len(patched)+len(payload)-end)
			buf = append(buf, patched...)
			buf = append(buf, payload[end:]...)
			out = buf
			changed = true
		}
	}
	out, swept := p.rules.SweepMappings(out)
	return out, changed || swept
}

// patchSpans rebuilds the payload with every span's contents rewritten.
// Code between spans is copied verbatim; offset shifts from insertions
// are absorbed by rebuilding rather than relocating span records.
func (p *Patcher) patchSpans(payload []byte, spans []token.Span) ([]byte, bool) {
	if len(spans) == 0 {
		return payload, false
	}
	var buf bytes.Buffer
	buf.Grow(len(payload) + 256)
	changed := false
	pos := 0
	for _, s := range spans {
		buf.Write(payload[pos:s.Start])
		chunk := string(payload[s.Start:s.End])
		patched := p.transformChunk(chunk)
		if patched != chunk {
			changed = true
		}
		buf.WriteString(patched)
		pos = s.End
	}
	buf.Write(payload[pos:])
	if !changed {
		return payload, false
	}
	return buf.Bytes(), true
}

// transformChunk applies the rewrite pipeline to one span's contents:
// libroot substitution, hash mappings, then prefix insertion before
// every store-path occurrence and every extra pattern, each insertion
// guarded so the rewrite is a fixed point of itself.
func (p *Patcher) transformChunk(s string) string {
	r := p.rules
	if r.OldLibroot != "" && strings.Contains(s, r.OldLibroot) {
		s = strings.ReplaceAll(s, r.OldLibroot, r.NewLibroot)
	}
	s = r.ApplyMappings(s)
	s = insertPrefix(r, s, rewrite.StorePrefix)
	for _, pat := range r.ExtraPatterns {
		s = insertPrefix(r, s, pat)
	}
	return s
}

// insertPrefix inserts r.Prefix before each occurrence of pattern in s,
// skipping occurrences already preceded by the prefix.
func insertPrefix(r *rewrite.Rules, s, pattern string) string {
	if r.Prefix == "" || !strings.Contains(s, pattern) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*len(r.Prefix))
	pos := 0
	for {
		idx := strings.Index(s[pos:], pattern)
		if idx < 0 {
			break
		}
		idx += pos
		b.WriteString(s[pos:idx])
		if !r.AlreadyPrefixed(s, idx) {
			b.WriteString(r.Prefix)
		}
		b.WriteString(pattern)
		pos = idx + len(pattern)
	}
	b.WriteString(s[pos:])
	return b.String()
}
