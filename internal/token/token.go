// Package token splits textual payloads into classified spans. Spans tag
// string literals and comments; everything outside a span is code. The
// patcher rewrites span contents only, so a span boundary that leaks code
// into a string (or vice versa) would corrupt output. The lexers here
// are approximate but never mis-tag well-formed input.
package token

import (
	"context"
	"errors"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/lua"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"

	"github.com/Wenri/patchnar/internal/lang"
)

// ErrTokenize reports that a payload could not be tokenized; the caller
// downgrades to shebang-only patching.
var ErrTokenize = errors.New("tokenizer failed")

// Kind classifies a span.
type Kind int

const (
	KindString Kind = iota
	KindComment
)

// Span is a half-open byte interval [Start, End) in the payload.
type Span struct {
	Start int
	End   int
	Kind  Kind
}

// Tokenizer produces spans for all patchable grammars. Tree-sitter
// parsers hold per-instance state, so a Tokenizer must not be shared
// between goroutines; the pipeline creates one per worker.
type Tokenizer struct {
	parsers map[lang.Grammar]*sitter.Parser
}

// New creates a tokenizer with parsers for every tree-sitter grammar.
func New() *Tokenizer {
	mk := func(l *sitter.Language) *sitter.Parser {
		p := sitter.NewParser()
		p.SetLanguage(l)
		return p
	}
	bashParser := mk(bash.GetLanguage())
	jsParser := mk(javascript.GetLanguage())
	return &Tokenizer{parsers: map[lang.Grammar]*sitter.Parser{
		lang.Shell:      bashParser,
		lang.Zsh:        bashParser,
		lang.Python:     mk(python.GetLanguage()),
		lang.Ruby:       mk(ruby.GetLanguage()),
		lang.Lua:        mk(lua.GetLanguage()),
		lang.JavaScript: jsParser,
		lang.JSON:       jsParser,
	}}
}

// spanKinds maps tree-sitter node types to span kinds, per grammar.
var spanKinds = map[lang.Grammar]map[string]Kind{
	lang.Shell: {
		"string":        KindString,
		"raw_string":    KindString,
		"ansi_c_string": KindString,
		"heredoc_body":  KindString,
		"comment":       KindComment,
	},
	lang.Python: {
		"string":  KindString,
		"comment": KindComment,
	},
	lang.Ruby: {
		"string":       KindString,
		"heredoc_body": KindString,
		"comment":      KindComment,
	},
	lang.Lua: {
		"string":  KindString,
		"comment": KindComment,
	},
	lang.JavaScript: {
		"string":          KindString,
		"template_string": KindString,
		"comment":         KindComment,
	},
}

func init() {
	spanKinds[lang.Zsh] = spanKinds[lang.Shell]
	spanKinds[lang.JSON] = spanKinds[lang.JavaScript]
}

// Tokenize returns the ordered, non-overlapping spans of payload under
// grammar g. The shebang line, when present, is always the first span,
// tagged comment.
func (t *Tokenizer) Tokenize(g lang.Grammar, payload []byte) ([]Span, error) {
	var spans []Span
	body := payload
	offset := 0
	if lang.HasShebang(payload) {
		end := len(payload)
		for i, b := range payload {
			if b == '\n' {
				end = i + 1
				break
			}
		}
		spans = append(spans, Span{Start: 0, End: end, Kind: KindComment})
		body = payload[end:]
		offset = end
	}

	var err error
	var rest []Span
	if p, ok := t.parsers[g]; ok {
		rest, err = t.sitterSpans(p, g, body)
	} else {
		rest, err = lexSpans(g, body)
	}
	if err != nil {
		return nil, err
	}
	for _, s := range rest {
		spans = append(spans, Span{Start: s.Start + offset, End: s.End + offset, Kind: s.Kind})
	}
	return normalize(spans), nil
}

// sitterSpans parses body and collects the byte ranges of string and
// comment nodes. A parse tree containing errors means the grammar did not
// recognize a top-level construct; the caller falls back rather than
// trusting misplaced boundaries.
func (t *Tokenizer) sitterSpans(p *sitter.Parser, g lang.Grammar, body []byte) ([]Span, error) {
	if len(body) == 0 {
		return nil, nil
	}
	tree, err := p.ParseCtx(context.Background(), nil, body)
	if err != nil {
		return nil, ErrTokenize
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, ErrTokenize
	}

	kinds := spanKinds[g]
	var spans []Span
	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		kind, ok := kinds[n.Type()]
		if !ok {
			continue
		}
		spans = append(spans, Span{
			Start: int(n.StartByte()),
			End:   int(n.EndByte()),
			Kind:  kind,
		})
	}
	return spans, nil
}

// normalize sorts spans and drops any span overlapping an earlier one
// (nested string nodes inside heredocs or template strings produce
// contained duplicates).
func normalize(spans []Span) []Span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
	out := spans[:0]
	end := 0
	for _, s := range spans {
		if s.Start < end || s.Start >= s.End {
			continue
		}
		out = append(out, s)
		end = s.End
	}
	return out
}
