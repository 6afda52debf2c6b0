// Command payload-extract is the CLI front-end (spec §6, an explicit
// non-goal of the core library): flag parsing, conflict validation, and
// dispatch into the payloadextract package. Flag names and shapes follow
// the teacher's direct flag.StringVar/flag.Func/flag.BoolFunc style,
// generalized to spec §6's option set and conflict rules (mirroring
// original_source/src/args.rs's clap `conflicts_with_all` declarations).
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	payloadextract "github.com/otadump/payload-extract"
	"github.com/otadump/payload-extract/internal/otalog"
)

type config struct {
	out        string
	diff       bool
	old        string
	partitions []string
	threads    int
	list       bool
	metadata   bool
	noParallel bool
	noVerify   bool
	userAgent  string
}

func main() {
	cfg := config{
		out:       "output",
		old:       "old",
		userAgent: payloadextract.DefaultUserAgent,
	}
	set := map[string]bool{}

	fs := flag.NewFlagSet("payload-extract", flag.ExitOnError)
	fs.StringVar(&cfg.out, "out", cfg.out, "output directory (`-` streams --metadata JSON to stdout)")
	fs.BoolVar(&cfg.diff, "diff", false, "enable differential OTA mode (requires -old)")
	fs.StringVar(&cfg.old, "old", cfg.old, "directory of prior partition images")
	fs.Func("partitions", "comma-separated subset of partition names to extract", func(s string) error {
		cfg.partitions = strings.Split(s, ",")
		set["partitions"] = true
		return nil
	})
	fs.IntVar(&cfg.threads, "threads", 0, "worker count (default: logical CPUs)")
	fs.BoolVar(&cfg.list, "list", false, "list partitions and exit")
	fs.BoolVar(&cfg.metadata, "metadata", false, "emit manifest as JSON and exit")
	fs.BoolVar(&cfg.noParallel, "no_parallel", false, "force serial extraction")
	fs.BoolVar(&cfg.noVerify, "no_verify", false, "skip bulk post-extraction verification")
	fs.StringVar(&cfg.userAgent, "user_agent", cfg.userAgent, "HTTP User-Agent for URL payloads")

	if err := fs.Parse(os.Args[1:]); err != nil {
		otalog.Fatal("%v", err)
	}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if fs.NArg() != 1 {
		otalog.Fatal("usage: payload-extract [flags] <payload path or URL>")
	}
	input := fs.Arg(0)

	if err := checkConflicts(set); err != nil {
		otalog.Fatal("%v", err)
	}

	payload, err := payloadextract.Open(input, cfg.userAgent)
	if err != nil {
		otalog.Fatal("%v", err)
	}

	switch {
	case cfg.list:
		if err := payload.ListPartitions(os.Stdout); err != nil {
			otalog.Fatal("%v", err)
		}
	case cfg.metadata:
		w, closeW, err := metadataSink(cfg.out)
		if err != nil {
			otalog.Fatal("%v", err)
		}
		defer closeW()
		if err := payload.WriteMetadata(w); err != nil {
			otalog.Fatal("%v", err)
		}
	default:
		runExtract(payload, cfg)
	}
}

// checkConflicts reimplements clap's conflicts_with_all for --list and
// --metadata (spec §6): "list" conflicts with diff/old/partitions/threads;
// "metadata" conflicts with diff/old/partitions. Both rules key off flags
// the user actually passed on the command line, not their default values.
func checkConflicts(set map[string]bool) error {
	if set["list"] {
		for _, name := range []string{"diff", "old", "partitions", "threads"} {
			if set[name] {
				return fmt.Errorf("-list conflicts with -%s", name)
			}
		}
	}
	if set["metadata"] {
		for _, name := range []string{"diff", "old", "partitions"} {
			if set[name] {
				return fmt.Errorf("-metadata conflicts with -%s", name)
			}
		}
	}
	return nil
}

func metadataSink(out string) (w *os.File, closeFn func(), err error) {
	if out == "-" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating output directory: %w", err)
	}
	path := out + string(os.PathSeparator) + "payload_metadata.json"
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func runExtract(payload *payloadextract.Payload, cfg config) {
	pus, err := payload.SelectPartitions(cfg.partitions)
	if err != nil {
		otalog.Fatal("%v", err)
	}

	bar := progressbar.NewOptions(len(pus),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	start := time.Now()
	report, err := payload.Extract(payloadextract.ExtractOptions{
		OutDir:     cfg.out,
		OldDir:     cfg.old,
		Diff:       cfg.diff,
		Partitions: cfg.partitions,
		Workers:    cfg.threads,
		NoParallel: cfg.noParallel,
		NoVerify:   cfg.noVerify,
		OnProgress: func(partitionName string) { bar.Add(1) },
	})
	if err == payloadextract.ErrDifferentialNotOptedIn {
		otalog.Fatal("%v", err)
	}
	if err != nil {
		otalog.Fatal("%v", err)
	}
	bar.Finish()

	for _, name := range report.Failed() {
		otalog.Error("partition %s failed to extract", name)
	}
	for _, name := range report.Mismatched() {
		otalog.Error("partition %s failed hash verification", name)
	}

	otalog.Info("extracted %d partition(s) in %s", len(pus)-len(report.Failed()), time.Since(start).Round(time.Millisecond))
}
