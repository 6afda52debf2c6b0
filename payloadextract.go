// Package payloadextract is the public API this module exposes: open an
// OTA payload from any of the three input shapes spec §6 describes (local
// payload.bin, local ZIP, or an http(s) URL to either), list or export its
// manifest, and run the full extract-then-verify pipeline (spec §4.4-4.6)
// against a chosen set of partitions.
//
// This mirrors the shape of yuan22-payload_extract's cmd/main.go call
// sites — ExtractPartitionsFromPayload, InitPayloadInfo,
// PrintPartitionsInfo — which that repo's own package never actually
// defines; here they are built out for real atop the internal packages.
package payloadextract

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/otadump/payload-extract/internal/manifest"
	"github.com/otadump/payload-extract/internal/metadata"
	"github.com/otadump/payload-extract/internal/otalog"
	"github.com/otadump/payload-extract/internal/otautil"
	"github.com/otadump/payload-extract/internal/payreader"
	"github.com/otadump/payload-extract/internal/schedule"
	"github.com/otadump/payload-extract/internal/verify"
)

// DefaultUserAgent is sent on every HTTP request when the caller doesn't
// override it (spec §6).
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) payload-extract/1.0"

// ErrDifferentialNotOptedIn is returned by Extract when the manifest
// contains differential operations but ExtractOptions.Diff was not set
// (spec §4.2: "If differential and the user did not opt in, the loader
// refuses with a clear message").
var ErrDifferentialNotOptedIn = errors.New("payloadextract: payload is a differential OTA; pass Diff to proceed")

// Payload is an opened OTA payload: its backend and its decoded manifest.
type Payload struct {
	input  string
	Source payreader.Source
	Loaded *manifest.Loaded
}

// Open detects which of the three backends (local bin, local ZIP, remote
// raw/ZIP) serves input, loads its manifest, and returns a Payload ready
// for listing, metadata export, or extraction. userAgent is used only for
// URL inputs; an empty string selects DefaultUserAgent.
func Open(input, userAgent string) (*Payload, error) {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	src, err := detectSource(input, userAgent)
	if err != nil {
		return nil, fmt.Errorf("payloadextract: detecting payload backend: %w", err)
	}

	r, err := src.New()
	if err != nil {
		return nil, fmt.Errorf("payloadextract: opening payload: %w", err)
	}
	defer r.Close()

	loaded, err := manifest.Load(r)
	if err != nil {
		return nil, fmt.Errorf("payloadextract: loading manifest: %w", err)
	}

	return &Payload{input: input, Source: src, Loaded: loaded}, nil
}

func detectSource(input, userAgent string) (payreader.Source, error) {
	if isURL(input) {
		kind, err := payreader.DetectRemoteKind(input, userAgent)
		if err != nil {
			return payreader.Source{}, err
		}
		if kind == payreader.KindRemoteZip {
			return payreader.NewRemoteZipSource(input, userAgent), nil
		}
		return payreader.NewRemoteRawSource(input, userAgent), nil
	}

	kind, err := payreader.DetectLocalKind(input)
	if err != nil {
		return payreader.Source{}, err
	}
	if kind == payreader.KindLocalZip {
		return payreader.NewLocalZipSource(input), nil
	}
	return payreader.NewLocalBinSource(input), nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsDifferential reports whether any operation in the manifest requires an
// old partition image (spec §4.2).
func (p *Payload) IsDifferential() bool { return p.Loaded.Manifest.IsDifferential() }

// BlockSize returns the manifest's block size, defaulting to 4096.
func (p *Payload) BlockSize() uint64 { return uint64(p.Loaded.Manifest.GetBlockSize()) }

// ParallelEligible reports whether the scheduler may run partitions in
// parallel for this payload (spec §4.1): a local ".bin", a local ".zip",
// or any URL.
func (p *Payload) ParallelEligible() bool {
	return payreader.ParallelEligible(isURL(p.input), filepath.Ext(p.input))
}

// SelectPartitions filters the manifest's partitions by name; an empty
// names list selects every partition, in manifest order.
func (p *Payload) SelectPartitions(names []string) ([]manifest.PartitionUpdate, error) {
	if len(names) == 0 {
		return p.Loaded.Manifest.Partitions, nil
	}
	out := make([]manifest.PartitionUpdate, 0, len(names))
	for _, name := range names {
		pu := p.Loaded.Manifest.Find(name)
		if pu == nil {
			return nil, fmt.Errorf("payloadextract: unknown partition %q", name)
		}
		out = append(out, *pu)
	}
	return out, nil
}

// ExtractOptions configures one extraction run (spec §6's invocation
// surface, minus the list/metadata/front-end-only options).
type ExtractOptions struct {
	OutDir     string // default "output"
	OldDir     string // default "old" when Diff is set
	Diff       bool
	Partitions []string
	Workers    int // <=0 selects logical CPU count
	NoParallel bool
	NoVerify   bool
	// OnProgress, when set, is called once per partition that finishes
	// extracting successfully — a side channel for progress reporting
	// (spec §4.4 step 4: "it must not affect correctness").
	OnProgress func(partitionName string)
}

// Report summarizes one Extract run: the per-partition extraction outcomes
// and, unless verification was skipped, the bulk hash-verification results.
type Report struct {
	Extracted []schedule.Outcome
	Verified  []verify.Result
}

// Failed returns the names of partitions that did not extract successfully.
func (r Report) Failed() []string {
	var names []string
	for _, o := range r.Extracted {
		if o.Err != nil {
			names = append(names, o.Partition)
		}
	}
	return names
}

// Mismatched returns the names of partitions whose post-extraction hash
// did not match the manifest's expectation.
func (r Report) Mismatched() []string {
	var names []string
	for _, v := range r.Verified {
		if !v.OK && v.Err == nil {
			names = append(names, v.PartitionName)
		}
	}
	return names
}

// Extract runs the full extract-then-verify pipeline (spec §4.4-§4.6)
// against the selected partitions.
func (p *Payload) Extract(opts ExtractOptions) (Report, error) {
	if p.IsDifferential() && !opts.Diff {
		return Report{}, ErrDifferentialNotOptedIn
	}

	pus, err := p.SelectPartitions(opts.Partitions)
	if err != nil {
		return Report{}, err
	}

	outDir := opts.OutDir
	if outDir == "" {
		outDir = "output"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("payloadextract: creating output directory: %w", err)
	}

	oldDir := opts.OldDir
	if opts.Diff && oldDir == "" {
		oldDir = "old"
	}

	outcomes := schedule.Run(pus, schedule.Options{
		Source:     p.Source,
		DataOffset: p.Loaded.DataOffset,
		BlockSize:  p.BlockSize(),
		OutDir:     outDir,
		OldDir:     oldDir,
		Workers:    opts.Workers,
		NoParallel: opts.NoParallel || !p.ParallelEligible(),
		OnEvent:    progressEvent(opts.OnProgress),
	})
	report := Report{Extracted: outcomes}

	if opts.NoVerify {
		return report, nil
	}

	report.Verified = verify.Partitions(succeeded(pus, outcomes), verify.Options{
		OutDir:  outDir,
		Workers: opts.Workers,
	})
	return report, nil
}

// progressEvent adapts schedule's per-attempt callback into a warn-on-retry
// log plus an optional once-per-success progress tick.
func progressEvent(onProgress func(string)) func(string, int, error) {
	return func(partitionName string, attempt int, err error) {
		if err != nil {
			otalog.Warn("partition %s: attempt %d failed: %v", partitionName, attempt+1, err)
			return
		}
		if onProgress != nil {
			onProgress(partitionName)
		}
	}
}

// succeeded returns the partitions whose extraction outcome carried no
// error — the only ones worth handing to the bulk verifier.
func succeeded(pus []manifest.PartitionUpdate, outcomes []schedule.Outcome) []manifest.PartitionUpdate {
	ok := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			ok[o.Partition] = true
		}
	}
	out := make([]manifest.PartitionUpdate, 0, len(pus))
	for _, pu := range pus {
		if ok[pu.PartitionName] {
			out = append(out, pu)
		}
	}
	return out
}

// ListPartitions re-opens the payload and writes a human-readable
// partition table to w (spec §4.7, §6 --list).
func (p *Payload) ListPartitions(w io.Writer) error {
	r, err := p.Source.New()
	if err != nil {
		return fmt.Errorf("payloadextract: reopening payload: %w", err)
	}
	defer r.Close()
	return otautil.ListPartitions(w, r)
}

// WriteMetadata writes the manifest's JSON export to w (spec §6 --metadata).
func (p *Payload) WriteMetadata(w io.Writer) error {
	doc := metadata.Build(p.Loaded.Manifest, p.Loaded.DataOffset)
	return metadata.Write(w, doc)
}
