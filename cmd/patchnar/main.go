// Package main provides the patchnar CLI: a stdin-to-stdout NAR stream
// patcher that relocates store paths under an installation prefix.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"zombiezen.com/go/nix/nar"

	"github.com/Wenri/patchnar/internal/audit"
	"github.com/Wenri/patchnar/internal/config"
	"github.com/Wenri/patchnar/internal/diag"
	"github.com/Wenri/patchnar/internal/pipeline"
	"github.com/Wenri/patchnar/internal/rewrite"
	"github.com/Wenri/patchnar/internal/stats"
	"github.com/Wenri/patchnar/internal/zio"
)

var rootCmd = &cobra.Command{
	Use:   "patchnar",
	Short: "Patch a NAR stream for installation under a filesystem prefix",
	Long: `patchnar reads a NAR from stdin, rewrites embedded store paths in ELF
binaries, symlinks and scripts, and writes the modified NAR to stdout.`,
	SilenceUsage: true,
	RunE:         runPatch,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the entries of a NAR read from stdin",
	RunE:  runList,
}

var (
	flagPrefix       string
	flagGlibc        string
	flagOldGlibc     string
	flagMappings     []string
	flagSelfMappings []string
	flagAddPrefixTo  []string
	flagSkip         []string
	flagJobs         int
	flagCompression  string
	flagAudit        string
	flagConfig       string
	flagDebug        bool
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagPrefix, "prefix", config.DefaultPrefix, "Installation prefix prepended to store paths")
	f.StringVar(&flagGlibc, "glibc", config.DefaultNewLibroot, "Replacement glibc store path")
	f.StringVar(&flagOldGlibc, "old-glibc", config.DefaultOldLibroot, "Original glibc store path to replace")
	f.StringArrayVar(&flagMappings, "mappings", nil, "Hash mappings file (OLD_PATH NEW_PATH per line)")
	f.StringArrayVar(&flagSelfMappings, "self-mapping", nil, "Single mapping (\"OLD_PATH NEW_PATH\")")
	f.StringArrayVar(&flagAddPrefixTo, "add-prefix-to", nil, "Additional path pattern to prefix inside script strings and comments")
	f.StringArrayVar(&flagSkip, "skip", nil, "Glob of archive paths to exclude from patching")
	f.IntVar(&flagJobs, "jobs", pipeline.DefaultJobs, "Rewrite window size (1 = sequential)")
	f.StringVar(&flagAudit, "audit", "", "Record rewrite events in a SQLite database")
	f.StringVar(&flagConfig, "config", "", "YAML config file (flags override)")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagCompression, "compression", string(zio.None), "Stream compression: none, auto, zstd, gzip")
	pf.BoolVar(&flagDebug, "debug", false, "Enable diagnostic trace on stderr")

	rootCmd.AddCommand(listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "patchnar: %v\n", err)
		os.Exit(1)
	}
}

// applyConfig folds a config file under the flag values: a flag the user
// set wins, otherwise a nonzero config value replaces the default. List
// settings (mappings, patterns, skip globs) take the entries of both.
func applyConfig(cmd *cobra.Command, cf *config.File) {
	set := cmd.Flags().Changed
	if !set("prefix") && cf.Prefix != "" {
		flagPrefix = cf.Prefix
	}
	if !set("glibc") && cf.Glibc != "" {
		flagGlibc = cf.Glibc
	}
	if !set("old-glibc") && cf.OldGlibc != "" {
		flagOldGlibc = cf.OldGlibc
	}
	if !set("jobs") && cf.Jobs > 0 {
		flagJobs = cf.Jobs
	}
	if !set("compression") && cf.Compression != "" {
		flagCompression = cf.Compression
	}
	if !set("audit") && cf.Audit != "" {
		flagAudit = cf.Audit
	}
	if !set("debug") && cf.Debug {
		flagDebug = true
	}
	flagMappings = append(flagMappings, cf.MappingFiles...)
	flagSelfMappings = append(flagSelfMappings, cf.Mappings...)
	flagAddPrefixTo = append(flagAddPrefixTo, cf.AddPrefixTo...)
	flagSkip = append(flagSkip, cf.Skip...)
}

func buildRules(log *diag.Logger) (*rewrite.Rules, error) {
	if (flagGlibc == "") != (flagOldGlibc == "") {
		return nil, fmt.Errorf("--glibc and --old-glibc must be given together")
	}
	rules := rewrite.NewRules(flagPrefix, flagOldGlibc, flagGlibc)
	rules.ExtraPatterns = flagAddPrefixTo
	for _, m := range flagSelfMappings {
		if err := rules.ParseSelfMapping(m); err != nil {
			return nil, err
		}
	}
	for _, file := range flagMappings {
		if err := rules.LoadMappings(file, log.Warnf); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func configDesc() string {
	var parts []string
	if flagPrefix != "" {
		parts = append(parts, "prefix="+flagPrefix)
	}
	if flagOldGlibc != "" {
		parts = append(parts, "old-glibc="+flagOldGlibc, "glibc="+flagGlibc)
	}
	for _, p := range flagAddPrefixTo {
		parts = append(parts, "add-prefix-to="+p)
	}
	parts = append(parts, fmt.Sprintf("jobs=%d", flagJobs))
	return strings.Join(parts, " ")
}

func runPatch(cmd *cobra.Command, args []string) error {
	if flagConfig != "" {
		cf, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		applyConfig(cmd, cf)
	}

	log := diag.New(flagDebug)
	rules, err := buildRules(log)
	if err != nil {
		return err
	}
	log.Debugf("prefix=%s", rules.Prefix)
	log.Debugf("glibc=%s old-glibc=%s", rules.NewLibroot, rules.OldLibroot)
	log.Debugf("mappings=%d extra-patterns=%d", len(rules.Mappings), len(rules.ExtraPatterns))

	scheme, err := zio.ParseScheme(flagCompression)
	if err != nil {
		return err
	}
	in, scheme, err := zio.Sniff(os.Stdin, scheme)
	if err != nil {
		return err
	}
	rd, wr, closeZ, err := zio.Wrap(in, os.Stdout, scheme)
	if err != nil {
		return err
	}

	var trail *audit.Trail
	if flagAudit != "" {
		trail, err = audit.Open(flagAudit, configDesc())
		if err != nil {
			return err
		}
	}

	digest := stats.NewDigestWriter(wr)
	counters := &stats.Counters{}
	driver := pipeline.New(pipeline.Options{
		Rules:     rules,
		Jobs:      flagJobs,
		SkipGlobs: flagSkip,
		Log:       log,
		Trail:     trail,
		Counters:  counters,
	})

	if err := driver.Run(rd, digest); err != nil {
		trail.Finish(digest.Sum(), "failed: "+err.Error())
		return err
	}
	if err := closeZ(); err != nil {
		return err
	}

	log.Debugf("done: %s", counters.Summary())
	log.Debugf("output digest: %s", digest.Sum())
	return trail.Finish(digest.Sum(), counters.Summary())
}

func runList(cmd *cobra.Command, args []string) error {
	scheme, err := zio.ParseScheme(flagCompression)
	if err != nil {
		return err
	}
	in, scheme, err := zio.Sniff(os.Stdin, scheme)
	if err != nil {
		return err
	}
	rd, _, closeZ, err := zio.Wrap(in, io.Discard, scheme)
	if err != nil {
		return err
	}
	defer closeZ()

	nr := nar.NewReader(rd)
	for {
		hdr, err := nr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		name := hdr.Path
		if name == "" {
			name = "/"
		}
		switch {
		case hdr.Mode.IsDir():
			fmt.Printf("%s %s\n", hdr.Mode, name)
		case hdr.Mode.IsRegular():
			fmt.Printf("%s %10d %s\n", hdr.Mode, hdr.Size, name)
		default:
			fmt.Printf("%s %s -> %s\n", hdr.Mode, name, hdr.LinkTarget)
		}
	}
}
