package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/veritas/pkg/atomize"
	"github.com/Mindburn-Labs/veritas/pkg/canonicalize"
	"github.com/Mindburn-Labs/veritas/pkg/digest"
	"github.com/Mindburn-Labs/veritas/pkg/ingest"
	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
	"github.com/Mindburn-Labs/veritas/pkg/normalize"
	"github.com/Mindburn-Labs/veritas/pkg/replay"
	"github.com/Mindburn-Labs/veritas/pkg/versioning"
)

func (a *app) printJSON(v any) int {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return failure(a.stderr, kernelerr.NewInvariantViolation("output is not serializable", kernelerr.StageCLI,
			map[string]any{"reason": err.Error()}))
	}
	_, _ = fmt.Fprintln(a.stdout, string(out))
	return exitOK
}

// runIngestCmd implements `veritas ingest`.
func (a *app) runIngestCmd(args []string) int {
	fs := newFlagSet("ingest")
	var (
		file      string
		dir       string
		recursive bool
		manifest  bool
	)
	fs.StringVar(&file, "file", "", "Ingest a single file")
	fs.StringVar(&dir, "dir", "", "List a directory")
	fs.BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories (with --dir)")
	fs.BoolVar(&manifest, "manifest", false, "Emit a manifest of the files instead of the listing (with --dir)")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if (file == "") == (dir == "") {
		return usageError(a.stderr, "exactly one of --file or --dir is required", map[string]any{"command": "ingest"})
	}

	if file != "" {
		artifact, err := ingest.File(file)
		if err != nil {
			return failure(a.stderr, err)
		}
		return a.printJSON(artifact)
	}

	opts := ingest.DirectoryOptions{Recursive: recursive}
	if manifest {
		m, err := ingest.ManifestFromDirectory(dir, opts)
		if err != nil {
			return failure(a.stderr, err)
		}
		return a.printJSON(m)
	}
	entries, err := ingest.Directory(dir, opts)
	if err != nil {
		return failure(a.stderr, err)
	}
	if entries == nil {
		entries = []ingest.DirEntry{}
	}
	return a.printJSON(entries)
}

// runAtomizeCmd implements `veritas atomize`. Records are normalized per
// record when --rules is given, then wrapped into events.
func (a *app) runAtomizeCmd(args []string) int {
	fs := newFlagSet("atomize")
	var (
		recordsPath string
		rulesPath   string
		outPath     string
		prov        atomize.Context
	)
	fs.StringVar(&recordsPath, "records", "", "Path to a JSON array of records (REQUIRED)")
	fs.StringVar(&rulesPath, "rules", "", "Normalization rules file (YAML or JSON)")
	fs.StringVar(&outPath, "out", "", "Where to write the events; stdout when empty")
	fs.StringVar(&prov.IngestID, "ingest-id", "", "Provenance: ingest id")
	fs.StringVar(&prov.NormalizeID, "normalize-id", "", "Provenance: normalize id")
	fs.StringVar(&prov.SourceOrigin, "source-origin", "", "Provenance: source origin")
	fs.StringVar(&prov.SourceLocation, "source-location", "", "Provenance: source location")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if code, done := a.requireFlags(fs, "records"); done {
		return code
	}

	records, err := atomize.ReadRecords(recordsPath)
	if err != nil {
		return failure(a.stderr, err)
	}
	if rulesPath != "" {
		rules, err := normalize.LoadRules(rulesPath)
		if err != nil {
			return failure(a.stderr, err)
		}
		for i, r := range records {
			if records[i], err = normalize.Structured(r, rules); err != nil {
				return failure(a.stderr, err)
			}
		}
	}

	var pctx *atomize.Context
	if prov != (atomize.Context{}) {
		pctx = &prov
	}
	events, err := atomize.Atomize(records, pctx)
	if err != nil {
		return failure(a.stderr, err)
	}

	if outPath == "" {
		return a.printJSON(events)
	}
	out, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return failure(a.stderr, err)
	}
	if err := writeFile(outPath, append(out, '\n')); err != nil {
		return failure(a.stderr, err)
	}
	return exitOK
}

// runDigestCmd implements `veritas digest [--algorithm name] [--canonical] <file>`.
func (a *app) runDigestCmd(args []string) int {
	fs := newFlagSet("digest")
	var (
		algorithm string
		canonical bool
	)
	fs.StringVar(&algorithm, "algorithm", versioning.Current().HashAlgorithm, "Digest algorithm")
	fs.BoolVar(&canonical, "canonical", false, "Hash the canonical form of a JSON file instead of its bytes")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if fs.NArg() != 1 {
		return usageError(a.stderr, "exactly one file argument is required", map[string]any{
			"command":    "digest",
			"algorithms": digest.Algorithms(),
		})
	}

	sum, err := digest.Lookup(algorithm)
	if err != nil {
		return failure(a.stderr, err)
	}
	path := fs.Arg(0)
	data, err := readFile(path)
	if err != nil {
		return failure(a.stderr, err)
	}
	if canonical {
		doc, err := replay.Decode(data)
		if err != nil {
			return failure(a.stderr, err)
		}
		if data, err = canonicalize.Marshal(doc); err != nil {
			return failure(a.stderr, err)
		}
	}
	_, _ = fmt.Fprintf(a.stdout, "%s  %s\n", sum(data), path)
	return exitOK
}

func runVersionCmd(stdout io.Writer) int {
	id := versioning.Current()
	_, _ = fmt.Fprintf(stdout, "veritas %s\n", id)
	_, _ = fmt.Fprintf(stdout, "  kernel_version:     %s\n", id.KernelVersion)
	_, _ = fmt.Fprintf(stdout, "  spec_version:       %s\n", id.SpecVersion)
	_, _ = fmt.Fprintf(stdout, "  hash_algorithm:     %s\n", id.HashAlgorithm)
	_, _ = fmt.Fprintf(stdout, "  canonical_encoding: %s\n", id.CanonicalEncoding)
	return exitOK
}
