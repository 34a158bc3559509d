// Package zio wraps the raw stdin/stdout byte streams with transparent
// compression. Nix binary caches commonly serve NARs as .nar.zst or
// .nar.gz; "auto" sniffs the input magic and mirrors the scheme on
// output.
package zio

import (
	"bufio"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Scheme names a compression codec.
type Scheme string

const (
	None Scheme = "none"
	Auto Scheme = "auto"
	Zstd Scheme = "zstd"
	Gzip Scheme = "gzip"
)

// ParseScheme validates a --compression flag value.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case None, Auto, Zstd, Gzip:
		return Scheme(s), nil
	}
	return None, fmt.Errorf("unknown compression scheme %q", s)
}

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Sniff peeks at the stream head and resolves Auto to a concrete
// scheme. The returned reader includes the peeked bytes.
func Sniff(r io.Reader, scheme Scheme) (io.Reader, Scheme, error) {
	if scheme != Auto {
		return r, scheme, nil
	}
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && len(head) < 2 {
		// Too short to carry any magic; let the codec report it.
		return br, None, nil
	}
	switch {
	case len(head) >= 4 && head[0] == zstdMagic[0] && head[1] == zstdMagic[1] &&
		head[2] == zstdMagic[2] && head[3] == zstdMagic[3]:
		return br, Zstd, nil
	case head[0] == gzipMagic[0] && head[1] == gzipMagic[1]:
		return br, Gzip, nil
	}
	return br, None, nil
}

// Wrap returns a decompressing reader and a compressing writer for the
// resolved scheme, plus a close function that must run after the stream
// completes to flush the encoder.
func Wrap(r io.Reader, w io.Writer, scheme Scheme) (io.Reader, io.Writer, func() error, error) {
	switch scheme {
	case None:
		return r, w, func() error { return nil }, nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		enc, err := zstd.NewWriter(w)
		if err != nil {
			dec.Close()
			return nil, nil, nil, fmt.Errorf("zstd writer: %w", err)
		}
		closeFn := func() error {
			dec.Close()
			return enc.Close()
		}
		return dec, enc, closeFn, nil
	case Gzip:
		// An empty input carries no gzip header; it reads as an empty
		// stream, so a caller that only writes can pass one.
		var rd io.Reader = io.MultiReader()
		var dec *gzip.Reader
		d, err := gzip.NewReader(r)
		switch {
		case err == nil:
			rd, dec = d, d
		case err != io.EOF:
			return nil, nil, nil, fmt.Errorf("gzip reader: %w", err)
		}
		enc := gzip.NewWriter(w)
		closeFn := func() error {
			if dec != nil {
				if err := dec.Close(); err != nil {
					enc.Close()
					return err
				}
			}
			return enc.Close()
		}
		return rd, enc, closeFn, nil
	}
	return nil, nil, nil, fmt.Errorf("unresolved compression scheme %q", scheme)
}
