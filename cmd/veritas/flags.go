package main

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
	"github.com/Mindburn-Labs/veritas/pkg/replay"
)

// newFlagSet returns a GNU style flag set that reports errors through the
// caller instead of printing them.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	return fs
}

// parseFlags parses args. It returns done=true with the exit code when the
// caller should return immediately (help requested or bad arguments).
func (a *app) parseFlags(fs *pflag.FlagSet, args []string) (code int, done bool) {
	err := fs.Parse(args)
	if errors.Is(err, pflag.ErrHelp) {
		fs.SetOutput(a.stdout)
		fs.PrintDefaults()
		return exitOK, true
	}
	if err != nil {
		return usageError(a.stderr, "invalid arguments", map[string]any{
			"command": fs.Name(),
			"reason":  err.Error(),
		}), true
	}
	return exitOK, false
}

// requireFlags reports the first empty required flag value.
func (a *app) requireFlags(fs *pflag.FlagSet, names ...string) (int, bool) {
	var missing []string
	for _, name := range names {
		if f := fs.Lookup(name); f == nil || f.Value.String() == "" {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) == 0 {
		return exitOK, false
	}
	return usageError(a.stderr, "missing required flags", map[string]any{
		"command": fs.Name(),
		"missing": strings.Join(missing, ","),
	}), true
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kernelerr.New(kernelerr.IOFailure, kernelerr.StageCLI, "unable to read file",
			map[string]any{"path": path, "error": err.Error()})
	}
	return data, nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return kernelerr.New(kernelerr.IOFailure, kernelerr.StageCLI, "unable to write file",
			map[string]any{"path": path, "error": err.Error()})
	}
	return nil
}

// readDocument reads and decodes a JSON document.
func readDocument(path string) (any, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return replay.Decode(data)
}

// readEvents reads a JSON array of events.
func readEvents(path string) ([]any, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	events, ok := doc.([]any)
	if !ok {
		return nil, kernelerr.NewInvalidInput("events file must hold a JSON array", kernelerr.StageCLI,
			map[string]any{"path": path})
	}
	return events, nil
}
