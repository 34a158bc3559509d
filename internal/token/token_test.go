package token

import (
	"testing"

	"github.com/Wenri/patchnar/internal/lang"
)

func TestTokenize_ShellStringsAndComments(t *testing.T) {
	tok := New()
	payload := []byte("#!/bin/sh\n# setup\nX=\"/nix/store/H-d/share\"\necho $X\n")
	spans, err := tok.Tokenize(lang.Shell, payload)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}

	var strs, comments []string
	for _, s := range spans {
		switch s.Kind {
		case KindString:
			strs = append(strs, spanText(payload, s))
		case KindComment:
			comments = append(comments, spanText(payload, s))
		}
	}
	if len(comments) < 2 {
		t.Fatalf("want shebang and # setup comments, got %q", comments)
	}
	if comments[0] != "#!/bin/sh\n" {
		t.Errorf("first comment should be the shebang, got %q", comments[0])
	}
	found := false
	for _, s := range strs {
		if s == `"/nix/store/H-d/share"` {
			found = true
		}
	}
	if !found {
		t.Errorf("string literal not tagged, strings: %q", strs)
	}
}

func TestTokenize_PythonSingleQuotes(t *testing.T) {
	tok := New()
	payload := []byte("path = '/nix/store/H-x/bin'\n")
	spans, err := tok.Tokenize(lang.Python, payload)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(spans) != 1 || spans[0].Kind != KindString {
		t.Fatalf("got %+v, want one string span", spans)
	}
	if spanText(payload, spans[0]) != "'/nix/store/H-x/bin'" {
		t.Errorf("span text: %q", spanText(payload, spans[0]))
	}
}

func TestTokenize_SpansNeverOverlap(t *testing.T) {
	tok := New()
	payload := []byte("#!/bin/sh\nA='x'\nB=\"y$A\"\n# done\n")
	spans, err := tok.Tokenize(lang.Shell, payload)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].Start < spans[i-1].End {
			t.Errorf("spans overlap: %+v then %+v", spans[i-1], spans[i])
		}
	}
}

func TestTokenize_EmptyPayload(t *testing.T) {
	tok := New()
	spans, err := tok.Tokenize(lang.Shell, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 0 {
		t.Errorf("got %+v, want none", spans)
	}
}
