package nar

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// enc appends a length-prefixed, padded NAR string.
func enc(buf *bytes.Buffer, s string) {
	var l [8]byte
	binary.LittleEndian.PutUint64(l[:], uint64(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
	if pad := -len(s) & 7; pad > 0 {
		buf.Write(make([]byte, pad))
	}
}

func encAll(buf *bytes.Buffer, tokens ...string) {
	for _, t := range tokens {
		enc(buf, t)
	}
}

// sampleNAR builds an archive with the given file contents:
//
//	/bin/hello   (executable)
//	/data        (regular)
//	/link        -> target
func sampleNAR(hello, data, target string) []byte {
	var buf bytes.Buffer
	encAll(&buf, Magic, "(", "type", "directory")

	encAll(&buf, "entry", "(", "name", "bin", "node",
		"(", "type", "directory",
		"entry", "(", "name", "hello", "node",
		"(", "type", "regular", "executable", "", "contents", hello, ")",
		")",
		")",
		")")

	encAll(&buf, "entry", "(", "name", "data", "node",
		"(", "type", "regular", "contents", data, ")",
		")")

	encAll(&buf, "entry", "(", "name", "link", "node",
		"(", "type", "symlink", "target", target, ")",
		")")

	encAll(&buf, ")")
	return buf.Bytes()
}

func fileNAR(contents string) []byte {
	var buf bytes.Buffer
	encAll(&buf, Magic, "(", "type", "regular", "contents", contents, ")")
	return buf.Bytes()
}

func TestProcessIdentity(t *testing.T) {
	in := sampleNAR("#!/bin/sh\necho hi\n", "payload", "/some/target")
	var out bytes.Buffer
	p := NewProcessor(bytes.NewReader(in), &out)
	if err := p.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bytes.Equal(out.Bytes(), in) {
		t.Error("nil callbacks must reproduce the input byte for byte")
	}
}

func TestProcessEmptyFile(t *testing.T) {
	in := fileNAR("")
	var out bytes.Buffer
	p := NewProcessor(bytes.NewReader(in), &out)
	if err := p.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bytes.Equal(out.Bytes(), in) {
		t.Error("zero-length file not preserved")
	}
}

func TestProcessEmptyDirectory(t *testing.T) {
	var buf bytes.Buffer
	encAll(&buf, Magic, "(", "type", "directory", ")")
	var out bytes.Buffer
	p := NewProcessor(bytes.NewReader(buf.Bytes()), &out)
	if err := p.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bytes.Equal(out.Bytes(), buf.Bytes()) {
		t.Error("empty directory not preserved")
	}
}

func TestCallbackPathsAndFlags(t *testing.T) {
	in := sampleNAR("hello-content", "data-content", "/some/target")
	var out bytes.Buffer
	p := NewProcessor(bytes.NewReader(in), &out)

	type seen struct {
		path       string
		executable bool
		payload    string
	}
	var files []seen
	var symlinks []string
	var dirs []string
	p.OnFile = func(payload []byte, executable bool, path string) ([]byte, error) {
		files = append(files, seen{path, executable, string(payload)})
		return payload, nil
	}
	p.OnSymlink = func(target string) (string, error) {
		symlinks = append(symlinks, target)
		return target, nil
	}
	p.OnDir = func(path string) { dirs = append(dirs, path) }

	if err := p.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := []seen{
		{"bin/hello", true, "hello-content"},
		{"data", false, "data-content"},
	}
	if len(files) != len(want) {
		t.Fatalf("files: %+v", files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d: got %+v, want %+v", i, files[i], want[i])
		}
	}
	if len(symlinks) != 1 || symlinks[0] != "/some/target" {
		t.Errorf("symlinks: %v", symlinks)
	}
	if len(dirs) != 2 || dirs[0] != "" || dirs[1] != "bin" {
		t.Errorf("dirs: %v", dirs)
	}
}

func TestReplacementChangesLength(t *testing.T) {
	in := sampleNAR("short", "data", "/t")
	var out bytes.Buffer
	p := NewProcessor(bytes.NewReader(in), &out)
	p.OnFile = func(payload []byte, executable bool, path string) ([]byte, error) {
		if path == "bin/hello" {
			return []byte("a considerably longer replacement payload"), nil
		}
		return payload, nil
	}
	p.OnSymlink = func(target string) (string, error) {
		return "/prefixed" + target, nil
	}
	if err := p.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := sampleNAR("a considerably longer replacement payload", "data", "/prefixed/t")
	if !bytes.Equal(out.Bytes(), want) {
		t.Error("re-emitted archive does not match expected encoding")
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	// Stagger completion so out-of-order finishes would be visible.
	var files []string
	for i := 0; i < 20; i++ {
		files = append(files, fmt.Sprintf("content-%02d-%s", i, strings.Repeat("x", (20-i)*10)))
	}
	var buf bytes.Buffer
	encAll(&buf, Magic, "(", "type", "directory")
	for i, c := range files {
		encAll(&buf, "entry", "(", "name", fmt.Sprintf("f%02d", i), "node",
			"(", "type", "regular", "contents", c, ")", ")")
	}
	encAll(&buf, ")")
	in := buf.Bytes()

	rewriteFn := func(payload []byte, executable bool, path string) ([]byte, error) {
		time.Sleep(time.Duration(len(payload)%7) * time.Millisecond)
		return append(bytes.ToUpper(payload), '!'), nil
	}

	run := func(jobs int) []byte {
		var out bytes.Buffer
		p := NewProcessor(bytes.NewReader(in), &out)
		p.Jobs = jobs
		p.OnFile = rewriteFn
		if err := p.Process(); err != nil {
			t.Fatalf("Process(jobs=%d): %v", jobs, err)
		}
		return out.Bytes()
	}

	sequential := run(1)
	parallel := run(8)
	if !bytes.Equal(sequential, parallel) {
		t.Error("parallel output differs from sequential output")
	}
}

func TestMalformed(t *testing.T) {
	mk := func(tokens ...string) []byte {
		var buf bytes.Buffer
		encAll(&buf, tokens...)
		return buf.Bytes()
	}
	full := fileNAR("some contents here")
	cases := map[string][]byte{
		"bad magic":    mk("not-an-archive"),
		"unknown kind": mk(Magic, "(", "type", "socket", ")"),
		"truncated":    full[:len(full)-10],
		"bad token":    mk(Magic, "(", "kind", "regular"),
	}

	for name, in := range cases {
		var out bytes.Buffer
		p := NewProcessor(bytes.NewReader(in), &out)
		err := p.Process()
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: got %v, want ErrMalformed", name, err)
		}
	}
}

func TestHugeTokenRejected(t *testing.T) {
	var buf bytes.Buffer
	var l [8]byte
	binary.LittleEndian.PutUint64(l[:], 1<<40)
	buf.Write(l[:])
	buf.WriteString("x")

	p := NewProcessor(&buf, &bytes.Buffer{})
	if err := p.Process(); !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}
