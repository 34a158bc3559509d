// Package pipeline drives the stream transform: it walks the archive
// with the codec, classifies every regular file, dispatches to the ELF
// or text rewriter, and rewrites symlink targets. Rewrites run in the
// codec's bounded window; everything shared here is either read-only
// (rules, globs) or atomic (counters), apart from the audit trail and
// logger, which lock around each write.
package pipeline

import (
	"io"
	"path"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Wenri/patchnar/internal/audit"
	"github.com/Wenri/patchnar/internal/diag"
	"github.com/Wenri/patchnar/internal/elfpatch"
	"github.com/Wenri/patchnar/internal/lang"
	"github.com/Wenri/patchnar/internal/nar"
	"github.com/Wenri/patchnar/internal/rewrite"
	"github.com/Wenri/patchnar/internal/stats"
	"github.com/Wenri/patchnar/internal/textpatch"
)

// DefaultJobs is the rewrite window when none is configured.
const DefaultJobs = 8

// Options configures a Driver.
type Options struct {
	Rules     *rewrite.Rules
	Jobs      int
	SkipGlobs []string
	Log       *diag.Logger
	Trail     *audit.Trail
	Counters  *stats.Counters
}

// Driver runs one stream transform.
type Driver struct {
	opts Options
	elf  *elfpatch.Rewriter

	// Text patchers hold tokenizer state; one per window slot, handed
	// out for the duration of a single file rewrite.
	patchers chan *textpatch.Patcher
}

// New creates a driver.
func New(opts Options) *Driver {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.Counters == nil {
		opts.Counters = &stats.Counters{}
	}
	d := &Driver{
		opts:     opts,
		elf:      elfpatch.NewRewriter(opts.Rules),
		patchers: make(chan *textpatch.Patcher, opts.Jobs),
	}
	for i := 0; i < opts.Jobs; i++ {
		d.patchers <- textpatch.New(opts.Rules)
	}
	return d
}

// Run copies one NAR from in to out, rewriting as configured.
func (d *Driver) Run(in io.Reader, out io.Writer) error {
	p := nar.NewProcessor(in, out)
	p.Jobs = d.opts.Jobs
	p.OnFile = d.patchFile
	p.OnSymlink = d.patchSymlink
	p.OnDir = func(string) { d.opts.Counters.Directories.Add(1) }
	return p.Process()
}

// Counters exposes the run's statistics.
func (d *Driver) Counters() *stats.Counters {
	return d.opts.Counters
}

func (d *Driver) skip(p string) bool {
	for _, g := range d.opts.SkipGlobs {
		if ok, err := doublestar.Match(g, p); err == nil && ok {
			return true
		}
	}
	return false
}

// patchFile rewrites one regular file. ELF detection runs before the
// classifier: ELF images are often large and extensionless. Every
// non-structural path still gets the basename sweep, which is length
// preserving and so cannot corrupt structured content.
func (d *Driver) patchFile(payload []byte, executable bool, filePath string) ([]byte, error) {
	c := d.opts.Counters
	c.FilesScanned.Add(1)
	c.PayloadBytes.Add(uint64(len(payload)))

	rules := d.opts.Rules
	if !rules.Active() {
		return payload, nil
	}

	if d.skip(filePath) {
		d.opts.Log.Debugf("skipping %s (skip glob)", filePath)
		return d.sweepOnly(payload, filePath), nil
	}

	if elfpatch.IsELF(payload) {
		return d.patchELF(payload, filePath), nil
	}

	dec := lang.Classify(path.Base(filePath), payload)
	switch {
	case dec.Skip:
		return d.sweepOnly(payload, filePath), nil
	case dec.ShebangOnly:
		patcher := <-d.patchers
		out, changed := patcher.PatchShebangOnly(payload)
		d.patchers <- patcher
		d.recordFile(filePath, "shebang", changed, len(out)-len(payload))
		return out, nil
	default:
		patcher := <-d.patchers
		res := patcher.PatchSource(dec.Grammar, payload)
		d.patchers <- patcher
		if res.FellBack {
			c.TokenizerFallbacks.Add(1)
			d.opts.Log.Debugf("tokenizer fallback for %s (lang=%s)", filePath, dec.Grammar)
		}
		d.recordFile(filePath, "source", res.Changed, len(res.Content)-len(payload))
		return res.Content, nil
	}
}

// patchELF applies the ELF recipe, then the basename sweep. A failed
// parse emits the original image and counts the failure; the stream
// keeps flowing.
func (d *Driver) patchELF(payload []byte, filePath string) []byte {
	d.opts.Log.Debugf("patching ELF %s (%d bytes)", filePath, len(payload))
	out, changed, err := d.elf.Patch(payload)
	if err != nil {
		d.opts.Counters.ElfFailures.Add(1)
		d.opts.Log.Debugf("ELF patch failed for %s: %v", filePath, err)
		out = payload
	}
	out, swept := d.opts.Rules.SweepMappings(out)
	d.recordFile(filePath, "elf", changed || swept, len(out)-len(payload))
	return out
}

// sweepOnly applies only the length-preserving basename sweep.
func (d *Driver) sweepOnly(payload []byte, filePath string) []byte {
	out, swept := d.opts.Rules.SweepMappings(payload)
	d.recordFile(filePath, "sweep", swept, 0)
	return out
}

func (d *Driver) recordFile(filePath, action string, changed bool, delta int) {
	if !changed {
		return
	}
	d.opts.Counters.FilesRewritten.Add(1)
	d.opts.Trail.Event(filePath, "file", action, int64(delta))
}

func (d *Driver) patchSymlink(target string) (string, error) {
	c := d.opts.Counters
	c.SymlinksScanned.Add(1)
	patched := d.opts.Rules.TransformSymlink(target)
	if patched != target {
		c.SymlinksRewritten.Add(1)
		d.opts.Log.Debugf("symlink: %s -> %s", target, patched)
		d.opts.Trail.Event(patched, "symlink", "retarget", int64(len(patched)-len(target)))
	}
	return patched, nil
}
