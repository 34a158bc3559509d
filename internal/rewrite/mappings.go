package rewrite

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidMapping reports a mapping that cannot be applied.
var ErrInvalidMapping = errors.New("invalid mapping")

// AddMapping extracts the basenames of two full store paths and appends
// a mapping. Basenames of unequal length violate the length-preserving
// invariant and are rejected.
func (r *Rules) AddMapping(oldPath, newPath string) error {
	oldBase := baseName(oldPath)
	newBase := baseName(newPath)
	if len(oldBase) != len(newBase) {
		return fmt.Errorf("%w: %s -> %s (length mismatch: %d vs %d)",
			ErrInvalidMapping, oldBase, newBase, len(oldBase), len(newBase))
	}
	r.Mappings = append(r.Mappings, Mapping{Old: oldBase, New: newBase})
	return nil
}

// ParseSelfMapping parses a single "OLD NEW" argument and appends it.
func (r *Rules) ParseSelfMapping(arg string) error {
	oldPath, newPath, ok := strings.Cut(arg, " ")
	if !ok {
		return fmt.Errorf("%w: want \"OLD_PATH NEW_PATH\", got %q", ErrInvalidMapping, arg)
	}
	return r.AddMapping(oldPath, strings.TrimSpace(newPath))
}

// LoadMappings reads a mappings file: one mapping per line, two
// whitespace-separated absolute paths. Blank lines are ignored. Mappings
// violating the length invariant are skipped; warn is called for each
// (the stream must not silently lose a requested rewrite, but a bad line
// must not abort the run either).
func (r *Rules) LoadMappings(path string, warn func(format string, args ...any)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening mappings file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			if warn != nil {
				warn("skipping malformed mapping line: %q", line)
			}
			continue
		}
		if err := r.AddMapping(fields[0], fields[1]); err != nil {
			if warn != nil {
				warn("skipping mapping: %v", err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading mappings file: %w", err)
	}
	return nil
}
