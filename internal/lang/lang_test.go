package lang

import (
	"bytes"
	"testing"
)

func TestClassify_Extensions(t *testing.T) {
	tests := []struct {
		name string
		want Grammar
	}{
		{"setup.sh", Shell},
		{"profile.bash", Shell},
		{"rc.zsh", Zsh},
		{"main.py", Python},
		{"mod.PM", Perl},
		{"tool.rb", Ruby},
		{"init.lua", Lua},
		{"run.tcl", Tcl},
		{"index.js", JavaScript},
		{"package.json", JSON},
		{"app.conf", Conf},
		{"app.desktop", Desktop},
		{"build.mk", Make},
		{"macros.m4", M4},
		{"data.xml", XML},
		{"filter.awk", Awk},
	}
	for _, tt := range tests {
		dec := Classify(tt.name, nil)
		if dec.Skip || dec.ShebangOnly || dec.Grammar != tt.want {
			t.Errorf("Classify(%q) = %+v, want grammar %q", tt.name, dec, tt.want)
		}
	}
}

func TestClassify_SkipExtensions(t *testing.T) {
	for _, name := range []string{"index.html", "logo.PNG", "pkg.tar", "libfoo.so", "doc.pdf", "font.woff2"} {
		dec := Classify(name, []byte("#!/bin/sh\n"))
		if !dec.Skip {
			t.Errorf("Classify(%q) = %+v, want skip", name, dec)
		}
	}
}

func TestClassify_ShebangInference(t *testing.T) {
	tests := []struct {
		payload string
		want    Grammar
	}{
		{"#!/bin/sh\necho hi\n", Shell},
		{"#!/bin/bash\n", Shell},
		{"#!/usr/bin/env python3\n", Python},
		{"#!/usr/bin/env python2\n", Python},
		{"#!/nix/store/abc123-bash-5.2/bin/bash\n", Shell},
		{"#!/nix/store/abc123-python3-3.11/bin/python3.11\n", Python},
		{"#!/usr/bin/perl -w\n", Perl},
		{"#!/usr/bin/env node\n", JavaScript},
	}
	for _, tt := range tests {
		dec := Classify("noext", []byte(tt.payload))
		if dec.Skip || dec.Grammar != tt.want {
			t.Errorf("Classify(noext, %q) = %+v, want grammar %q", tt.payload, dec, tt.want)
		}
	}
}

func TestClassify_UnknownInterpreter(t *testing.T) {
	dec := Classify("noext", []byte("#!/opt/bin/obscurelang\n"))
	if !dec.Skip {
		t.Errorf("unknown interpreter should skip, got %+v", dec)
	}
}

func TestClassify_NoShebangNoExtension(t *testing.T) {
	dec := Classify("README", []byte("plain text\n"))
	if !dec.Skip {
		t.Errorf("extensionless non-script should skip, got %+v", dec)
	}
}

func TestClassify_LargeExtensionless(t *testing.T) {
	payload := append([]byte("#!/bin/sh\n"), bytes.Repeat([]byte{'x'}, MaxContentDetectSize)...)
	dec := Classify("bigfile", payload)
	if !dec.Skip {
		t.Errorf("oversized extensionless file should skip, got %+v", dec)
	}
}

func TestClassify_DotfileNotExtension(t *testing.T) {
	dec := Classify(".so", []byte("#!/bin/sh\n"))
	if dec.Skip || dec.Grammar != Shell {
		t.Errorf("leading dot is not an extension: %+v", dec)
	}
}

func TestHasShebang(t *testing.T) {
	if !HasShebang([]byte("#!/bin/sh")) {
		t.Error("expected shebang")
	}
	if HasShebang([]byte("#")) || HasShebang([]byte("echo")) || HasShebang(nil) {
		t.Error("false positive")
	}
}
