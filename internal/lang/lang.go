// Package lang decides which textual grammar, if any, applies to a file
// payload. ELF detection happens before this package is consulted; the
// classifier only distinguishes patchable text from everything else.
package lang

import (
	"bytes"
	"strings"
)

// Grammar identifies a tokenizer grammar.
type Grammar string

const (
	None       Grammar = ""
	Shell      Grammar = "sh"
	Zsh        Grammar = "zsh"
	Python     Grammar = "python"
	Perl       Grammar = "perl"
	Ruby       Grammar = "ruby"
	Lua        Grammar = "lua"
	Tcl        Grammar = "tcl"
	JavaScript Grammar = "javascript"
	JSON       Grammar = "json"
	Awk        Grammar = "awk"
	Make       Grammar = "makefile"
	Conf       Grammar = "conf"
	Desktop    Grammar = "desktop"
	Properties Grammar = "properties"
	Ini        Grammar = "ini"
	M4         Grammar = "m4"
	XML        Grammar = "xml"
)

// Decision is the classifier's verdict for one file.
type Decision struct {
	Grammar Grammar
	// ShebangOnly marks files whose grammar is outside the patchable
	// whitelist but which carry a shebang: only the first line is
	// rewritten.
	ShebangOnly bool
	// Skip marks files that get no text patching at all (the basename
	// sweep still runs).
	Skip bool
}

// MaxContentDetectSize bounds content-based (shebang) detection. Larger
// extensionless files are data or binaries; scripts worth patching are
// small.
const MaxContentDetectSize = 64 * 1024

// skipExtensions never need text patching: documentation, images,
// archives, fonts, object code.
var skipExtensions = map[string]bool{
	".html": true, ".htm": true, ".xhtml": true, ".css": true, ".svg": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".webp": true, ".bmp": true,
	".xz": true, ".gz": true, ".bz2": true, ".zst": true, ".zip": true,
	".tar": true, ".7z": true,
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".eot": true,
	".pdf": true, ".ps": true, ".dvi": true, ".info": true, ".texi": true,
	".texinfo": true,
	".haddock": true, ".hi": true, ".o": true, ".a": true, ".so": true,
	".dylib": true,
}

// extensionGrammar is the fast path: extension to grammar, no content
// inspection needed.
var extensionGrammar = map[string]Grammar{
	".sh":   Shell,
	".bash": Shell,
	".zsh":  Zsh,

	".py":  Python,
	".pyw": Python,

	".pl": Perl,
	".pm": Perl,

	".rb":  Ruby,
	".lua": Lua,
	".tcl": Tcl,

	".js":   JavaScript,
	".mjs":  JavaScript,
	".json": JSON,

	".conf":       Conf,
	".cfg":        Conf,
	".desktop":    Desktop,
	".properties": Properties,
	".ini":        Ini,

	".mk": Make,
	".m4": M4,

	".xml": XML,
	".awk": Awk,
}

// patchable is the whitelist of grammars worth tokenizing: the languages
// where store paths commonly appear in string literals. A detected
// grammar outside this set downgrades to shebang-only.
var patchable = map[Grammar]bool{
	Shell: true, Zsh: true,
	Python: true, Perl: true, Ruby: true, Lua: true, Tcl: true,
	JavaScript: true, JSON: true,
	Conf: true, Desktop: true, Properties: true, Ini: true,
	Make: true, M4: true,
	XML: true, Awk: true,
}

// interpreterGrammar maps a shebang interpreter basename to a grammar.
var interpreterGrammar = map[string]Grammar{
	"sh":      Shell,
	"bash":    Shell,
	"dash":    Shell,
	"ash":     Shell,
	"zsh":     Zsh,
	"python":  Python,
	"python2": Python,
	"python3": Python,
	"perl":    Perl,
	"ruby":    Ruby,
	"lua":     Lua,
	"tclsh":   Tcl,
	"wish":    Tcl,
	"node":    JavaScript,
	"nodejs":  JavaScript,
	"awk":     Awk,
	"gawk":    Awk,
	"mawk":    Awk,
}

// extension returns the lowercased final extension of name, or "" when
// there is none (a leading dot alone is not an extension).
func extension(name string) string {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return ""
	}
	return strings.ToLower(name[dot:])
}

// Classify decides how to treat a non-ELF payload. name is the final
// path component.
func Classify(name string, payload []byte) Decision {
	ext := extension(name)
	if skipExtensions[ext] {
		return Decision{Skip: true}
	}
	if g, ok := extensionGrammar[ext]; ok {
		return Decision{Grammar: g}
	}

	// No known extension: scripts announce themselves with a shebang.
	// Large extensionless files are data; do not inspect them.
	if len(payload) > MaxContentDetectSize || !HasShebang(payload) {
		return Decision{Skip: true}
	}
	g := inferFromShebang(payload)
	if g == None {
		return Decision{Skip: true}
	}
	if !patchable[g] {
		return Decision{Grammar: g, ShebangOnly: true}
	}
	return Decision{Grammar: g}
}

// HasShebang reports whether the payload starts with "#!".
func HasShebang(payload []byte) bool {
	return len(payload) >= 2 && payload[0] == '#' && payload[1] == '!'
}

// inferFromShebang extracts the interpreter from the first line and maps
// it to a grammar. Store-path shebangs are normalized first, so
// "#!/nix/store/<hash>-bash-5.2/bin/bash" infers the same as
// "#!/bin/bash". "#!/usr/bin/env X" resolves to X.
func inferFromShebang(payload []byte) Grammar {
	line := payload[2:]
	if nl := bytes.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return None
	}
	interp := fields[0]
	if i := strings.LastIndexByte(interp, '/'); i >= 0 {
		interp = interp[i+1:]
	}
	if interp == "env" && len(fields) > 1 {
		interp = fields[1]
		if i := strings.LastIndexByte(interp, '/'); i >= 0 {
			interp = interp[i+1:]
		}
	}
	// Strip a version suffix such as python3.11 -> python3.
	interp = strings.TrimRight(interp, "0123456789.")
	if g, ok := interpreterGrammar[interp]; ok {
		return g
	}
	// Retry with trailing digits kept (python3, python2 are aliases).
	base := fields[0]
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if g, ok := interpreterGrammar[base]; ok {
		return g
	}
	return None
}

// Patchable reports whether g is in the tokenizable whitelist.
func Patchable(g Grammar) bool {
	return patchable[g]
}
