// Package stats collects per-run counters and an output-stream digest.
package stats

import (
	"fmt"
	"io"
	"sync/atomic"

	"lukechampine.com/blake3"
)

// Counters accumulates observability counts for one stream. All fields
// are incremented atomically; safe for concurrent rewriters.
type Counters struct {
	FilesScanned       atomic.Uint64
	FilesRewritten     atomic.Uint64
	SymlinksScanned    atomic.Uint64
	SymlinksRewritten  atomic.Uint64
	Directories        atomic.Uint64
	PayloadBytes       atomic.Uint64
	ElfFailures        atomic.Uint64
	TokenizerFallbacks atomic.Uint64
}

// Summary renders the counters as a single human-readable line.
func (c *Counters) Summary() string {
	return fmt.Sprintf(
		"files %d/%d rewritten, symlinks %d/%d rewritten, dirs %d, bytes %d, elf failures %d, tokenizer fallbacks %d",
		c.FilesRewritten.Load(), c.FilesScanned.Load(),
		c.SymlinksRewritten.Load(), c.SymlinksScanned.Load(),
		c.Directories.Load(), c.PayloadBytes.Load(),
		c.ElfFailures.Load(), c.TokenizerFallbacks.Load())
}

// DigestWriter tees everything written to an output stream into a BLAKE3
// hasher, so two runs can be compared by digest without retaining either
// stream.
type DigestWriter struct {
	w io.Writer
	h *blake3.Hasher
}

// NewDigestWriter wraps w.
func NewDigestWriter(w io.Writer) *DigestWriter {
	return &DigestWriter{w: w, h: blake3.New(32, nil)}
}

func (d *DigestWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.h.Write(p[:n])
	return n, err
}

// Sum returns the hex digest of all bytes written so far.
func (d *DigestWriter) Sum() string {
	return fmt.Sprintf("%x", d.h.Sum(nil))
}
