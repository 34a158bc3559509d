package token

import (
	"bytes"

	"github.com/Wenri/patchnar/internal/lang"
)

// lexProfile parameterizes the fallback scanner. The hash-comment family
// (perl, tcl, awk, make, the config formats, m4) shares one shape:
// line comments plus quoted literals with optional backslash escapes.
type lexProfile struct {
	lineComment            []string
	commentOnlyAtLineStart bool
	blockOpen              string
	blockClose             string
	singleQuote            bool
	doubleQuote            bool
	backslash              bool
}

var lexProfiles = map[lang.Grammar]lexProfile{
	lang.Perl:       {lineComment: []string{"#"}, singleQuote: true, doubleQuote: true, backslash: true},
	lang.Tcl:        {lineComment: []string{"#"}, doubleQuote: true, backslash: true},
	lang.Awk:        {lineComment: []string{"#"}, doubleQuote: true, backslash: true},
	lang.Make:       {lineComment: []string{"#"}, singleQuote: true, doubleQuote: true},
	lang.Conf:       {lineComment: []string{"#"}, singleQuote: true, doubleQuote: true},
	lang.Desktop:    {lineComment: []string{"#"}, commentOnlyAtLineStart: true},
	lang.Properties: {lineComment: []string{"#", "!"}, commentOnlyAtLineStart: true},
	lang.Ini:        {lineComment: []string{"#", ";"}, singleQuote: true, doubleQuote: true},
	lang.M4:         {lineComment: []string{"#", "dnl "}, singleQuote: false, doubleQuote: false},
	lang.XML:        {blockOpen: "<!--", blockClose: "-->", singleQuote: true, doubleQuote: true},
}

// lexSpans scans body with the profile for g. Unlike the tree-sitter
// path this cannot fail: the scanner recognizes every byte sequence.
func lexSpans(g lang.Grammar, body []byte) ([]Span, error) {
	prof, ok := lexProfiles[g]
	if !ok {
		return nil, ErrTokenize
	}
	var spans []Span
	atLineStart := true
	i := 0
	for i < len(body) {
		c := body[i]

		if c == '\n' {
			atLineStart = true
			i++
			continue
		}

		// Block comment (XML).
		if prof.blockOpen != "" && bytes.HasPrefix(body[i:], []byte(prof.blockOpen)) {
			end := bytes.Index(body[i+len(prof.blockOpen):], []byte(prof.blockClose))
			stop := len(body)
			if end >= 0 {
				stop = i + len(prof.blockOpen) + end + len(prof.blockClose)
			}
			spans = append(spans, Span{Start: i, End: stop, Kind: KindComment})
			i = stop
			atLineStart = false
			continue
		}

		// Line comment to end of line.
		if marker := matchComment(prof, body[i:], atLineStart); marker > 0 {
			stop := len(body)
			if nl := bytes.IndexByte(body[i:], '\n'); nl >= 0 {
				stop = i + nl
			}
			spans = append(spans, Span{Start: i, End: stop, Kind: KindComment})
			i = stop
			continue
		}

		// Quoted literal, including the quotes.
		if (c == '\'' && prof.singleQuote) || (c == '"' && prof.doubleQuote) {
			stop := scanQuoted(body, i, c, prof.backslash)
			spans = append(spans, Span{Start: i, End: stop, Kind: KindString})
			i = stop
			atLineStart = false
			continue
		}

		if c != ' ' && c != '\t' {
			atLineStart = false
		}
		i++
	}
	return spans, nil
}

func matchComment(prof lexProfile, rest []byte, atLineStart bool) int {
	if prof.commentOnlyAtLineStart && !atLineStart {
		return 0
	}
	for _, m := range prof.lineComment {
		if bytes.HasPrefix(rest, []byte(m)) {
			return len(m)
		}
	}
	return 0
}

// scanQuoted returns the index one past the closing quote, or len(body)
// for an unterminated literal.
func scanQuoted(body []byte, start int, quote byte, backslash bool) int {
	for i := start + 1; i < len(body); i++ {
		switch {
		case backslash && body[i] == '\\':
			i++
		case body[i] == quote:
			return i + 1
		}
	}
	return len(body)
}
