package zio

import (
	"bytes"
	"io"
	"testing"
)

func roundTrip(t *testing.T, scheme Scheme, payload []byte) {
	t.Helper()
	var compressed bytes.Buffer
	_, w, closeFn, err := Wrap(bytes.NewReader(nil), &compressed, scheme)
	if err != nil {
		t.Fatalf("Wrap(write): %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Auto must sniff the scheme back out.
	r, sniffed, err := Sniff(bytes.NewReader(compressed.Bytes()), Auto)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if sniffed != scheme {
		t.Fatalf("sniffed %q, want %q", sniffed, scheme)
	}
	rd, _, closeFn, err := Wrap(r, io.Discard, sniffed)
	if err != nil {
		t.Fatalf("Wrap(read): %v", err)
	}
	got, err := io.ReadAll(rd)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestRoundTripZstd(t *testing.T) {
	roundTrip(t, Zstd, bytes.Repeat([]byte("nix-archive-1 test payload "), 100))
}

func TestRoundTripGzip(t *testing.T) {
	roundTrip(t, Gzip, bytes.Repeat([]byte("nix-archive-1 test payload "), 100))
}

func TestSniffPlain(t *testing.T) {
	r, scheme, err := Sniff(bytes.NewReader([]byte("nix-archive-1...")), Auto)
	if err != nil {
		t.Fatal(err)
	}
	if scheme != None {
		t.Errorf("sniffed %q, want none", scheme)
	}
	head := make([]byte, 3)
	if _, err := io.ReadFull(r, head); err != nil || string(head) != "nix" {
		t.Errorf("peeked bytes lost: %q %v", head, err)
	}
}

func TestSniffExplicitSchemeUntouched(t *testing.T) {
	in := bytes.NewReader([]byte("data"))
	r, scheme, err := Sniff(in, None)
	if err != nil {
		t.Fatal(err)
	}
	if scheme != None || r != io.Reader(in) {
		t.Error("explicit scheme must pass the reader through")
	}
}

func TestParseScheme(t *testing.T) {
	for _, ok := range []string{"none", "auto", "zstd", "gzip"} {
		if _, err := ParseScheme(ok); err != nil {
			t.Errorf("ParseScheme(%q): %v", ok, err)
		}
	}
	if _, err := ParseScheme("xz"); err == nil {
		t.Error("xz is not supported and must be rejected")
	}
}
