package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
	"github.com/Mindburn-Labs/veritas/pkg/ledger"
	"github.com/Mindburn-Labs/veritas/pkg/replay"
)

// Success tokens printed on stdout.
const (
	tokenReplayVerified     = "REPLAY VERIFIED"
	tokenVerificationPassed = "VERIFICATION PASSED"
)

type summary struct {
	Status     string `json:"status"`
	LedgerHash string `json:"ledger_hash"`
	EntryCount int    `json:"entry_count"`
}

func (a *app) report(status string, res *replay.Result, asJSON bool) int {
	if !asJSON {
		_, _ = fmt.Fprintln(a.stdout, status)
		return exitOK
	}
	out, err := json.MarshalIndent(summary{Status: status, LedgerHash: res.LedgerHash, EntryCount: res.EntryCount}, "", "  ")
	if err != nil {
		return failure(a.stderr, err)
	}
	_, _ = fmt.Fprintln(a.stdout, string(out))
	return exitOK
}

// runReplayCmd implements `veritas replay`.
//
// Exit codes:
//
//	0 = replay verified
//	1 = kernel error (payload on stderr)
//	2 = argument error
func (a *app) runReplayCmd(ctx context.Context, args []string) int {
	fs := newFlagSet("replay")
	var (
		ledgerPath string
		atomsPath  string
		jsonOutput bool
	)
	fs.StringVar(&ledgerPath, "ledger", "", "Path to the sealed ledger document (REQUIRED)")
	fs.StringVar(&atomsPath, "atoms", "", "Path to the expected event sequence (REQUIRED)")
	fs.BoolVar(&jsonOutput, "json", false, "Print a JSON summary instead of the status line")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if code, done := a.requireFlags(fs, "ledger", "atoms"); done {
		return code
	}

	_, finish := a.telemetry.TrackOperation(ctx, "replay", attribute.String("veritas.input", ledgerPath))
	res, err := a.replayFiles(ledgerPath, atomsPath)
	finish(err)
	if err != nil {
		return failure(a.stderr, err)
	}
	return a.report(tokenReplayVerified, res, jsonOutput)
}

func (a *app) replayFiles(ledgerPath, atomsPath string) (*replay.Result, error) {
	doc, err := readDocument(ledgerPath)
	if err != nil {
		return nil, err
	}
	atoms, err := readEvents(atomsPath)
	if err != nil {
		return nil, err
	}
	return replay.ReplayValue(doc, replay.WithExpectedEvents(atoms), replay.WithLogger(a.logger))
}

// runVerifyCmd implements `veritas verify`. The expected digest is checked
// against ledger_hash before the chain is replayed.
//
// Exit codes:
//
//	0 = verification passed
//	1 = kernel error (payload on stderr)
//	2 = argument error
func (a *app) runVerifyCmd(ctx context.Context, args []string) int {
	fs := newFlagSet("verify")
	var (
		ledgerPath   string
		atomsPath    string
		expectedPath string
		jsonOutput   bool
	)
	fs.StringVar(&ledgerPath, "ledger", "", "Path to the sealed ledger document (REQUIRED)")
	fs.StringVar(&atomsPath, "atoms", "", "Path to the expected event sequence (REQUIRED)")
	fs.StringVar(&expectedPath, "expected-hash", "", "Path to a file holding the expected ledger_hash (REQUIRED)")
	fs.BoolVar(&jsonOutput, "json", false, "Print a JSON summary instead of the status line")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if code, done := a.requireFlags(fs, "ledger", "atoms", "expected-hash"); done {
		return code
	}

	_, finish := a.telemetry.TrackOperation(ctx, "verify", attribute.String("veritas.input", ledgerPath))
	res, err := a.verifyFiles(ledgerPath, atomsPath, expectedPath)
	finish(err)
	if err != nil {
		return failure(a.stderr, err)
	}
	return a.report(tokenVerificationPassed, res, jsonOutput)
}

func (a *app) verifyFiles(ledgerPath, atomsPath, expectedPath string) (*replay.Result, error) {
	raw, err := readFile(expectedPath)
	if err != nil {
		return nil, err
	}
	expected, err := replay.ReadExpectedHash(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	doc, err := readDocument(ledgerPath)
	if err != nil {
		return nil, err
	}
	atoms, err := readEvents(atomsPath)
	if err != nil {
		return nil, err
	}
	return replay.Verify(doc, expected, replay.WithExpectedEvents(atoms), replay.WithLogger(a.logger))
}

// runSealCmd implements `veritas seal`: build a ledger from an event file.
func (a *app) runSealCmd(ctx context.Context, args []string) int {
	fs := newFlagSet("seal")
	var (
		atomsPath string
		outPath   string
		hashOut   string
	)
	fs.StringVar(&atomsPath, "atoms", "", "Path to the event sequence, a JSON array (REQUIRED)")
	fs.StringVar(&outPath, "out", "", "Where to write the ledger document; stdout when empty")
	fs.StringVar(&hashOut, "hash-out", "", "Where to write the ledger_hash digest file")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if code, done := a.requireFlags(fs, "atoms"); done {
		return code
	}

	_, finish := a.telemetry.TrackOperation(ctx, "seal", attribute.String("veritas.input", atomsPath))
	l, err := a.seal(atomsPath, outPath, hashOut)
	finish(err)
	if err != nil {
		return failure(a.stderr, err)
	}
	if outPath != "" {
		_, _ = fmt.Fprintln(a.stdout, l.LedgerHash())
	}
	return exitOK
}

func (a *app) seal(atomsPath, outPath, hashOut string) (*ledger.Ledger, error) {
	events, err := readEvents(atomsPath)
	if err != nil {
		return nil, err
	}
	l, err := ledger.Build(events, ledger.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	doc, err := ledger.Encode(l)
	if err != nil {
		return nil, err
	}

	if outPath == "" {
		if _, err := a.stdout.Write(doc); err != nil {
			return nil, kernelerr.New(kernelerr.IOFailure, kernelerr.StageCLI, "unable to write ledger",
				map[string]any{"error": err.Error()})
		}
	} else if err := writeFile(outPath, doc); err != nil {
		return nil, err
	}
	if hashOut != "" {
		if err := writeFile(hashOut, []byte(l.LedgerHash()+"\n")); err != nil {
			return nil, err
		}
	}
	a.logger.Debug("seal complete", "entry_count", l.EntryCount(), "ledger_hash", l.LedgerHash())
	return l, nil
}
