// Package cli canonicalizes command-line input into an Invocation and maps
// pipeline outcomes to semantic exit codes.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/declare"
)

// Semantic exit codes. These are part of the tool's contract: operators
// branch on them in batch scripts.
const (
	// ExitSuccess: every file declared or already declared.
	ExitSuccess = 0
	// ExitPartialFailure: at least one permanent per-file failure.
	ExitPartialFailure = 1
	// ExitInvalidInvocation: bad arguments, missing path, or the catalog
	// client is unavailable. Nothing was attempted.
	ExitInvalidInvocation = 2
	// ExitInternalError: a pipeline bug, not an operator problem.
	ExitInternalError = 3
)

// Invocation is the fully canonicalized description of one run. All
// configuration the pipeline stages see originates here; no stage reads
// flags or environment state on its own.
type Invocation struct {
	// Path is the file or directory to declare.
	Path string

	Workers          int
	MetadataTemplate string
	Algorithms       []string
	Recursive        bool
	Sidecar          bool
	Validate         bool
	Location         string
	RateLimit        float64
	Retries          int
	ReportPath       string
	LogFile          string
	LogLevel         string
	Experiment       string
	DryRun           bool
}

// InvocationError carries the exit code a parse/validation failure maps to.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// ParseInvocation parses args (excluding argv[0]) into an Invocation.
//
// Environment access goes through lookupEnv so tests control it; only the
// $EXPERIMENT fallback is read, and only here. Parsing never touches the
// filesystem — existence of the path is the enumerator's concern, except
// that an empty invocation is rejected up front.
func ParseInvocation(args []string, lookupEnv func(string) string) (Invocation, error) {
	if lookupEnv == nil {
		lookupEnv = func(string) string { return "" }
	}

	fs := flag.NewFlagSet("samdeclare", flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parse errors are returned, not printed

	var inv Invocation
	var algos stringList

	fs.IntVar(&inv.Workers, "workers", 0, "Worker pool size. 0 derives from available parallelism.")
	fs.StringVar(&inv.MetadataTemplate, "metadata-template", "", "JSON file with batch-wide base metadata.")
	fs.Var(&algos, "checksum-algo", "Checksum algorithm (repeatable). Default enstore,adler32,md5.")
	fs.BoolVar(&inv.Recursive, "recursive", true, "Recurse into subdirectories.")
	fs.BoolVar(&inv.Sidecar, "sidecar", false, "Merge per-file <name>.json metadata sidecars.")
	fs.BoolVar(&inv.Validate, "validate", false, "Validate metadata with the catalog before declaring.")
	fs.StringVar(&inv.Location, "location", "", "Storage location to register for each declared file.")
	fs.Float64Var(&inv.RateLimit, "rate-limit", 0, "Max catalog requests/second across all workers. 0 disables.")
	fs.IntVar(&inv.Retries, "retries", 3, "Max declare attempts per file.")
	fs.StringVar(&inv.ReportPath, "report", "", "Write a canonical JSON batch report to this path.")
	fs.StringVar(&inv.LogFile, "log-file", "", "Also append logs to this file.")
	fs.StringVar(&inv.LogLevel, "log-level", "info", "Log level: trace|debug|info|warn|error.")
	fs.StringVar(&inv.Experiment, "experiment", "", "Experiment name. Defaults to $EXPERIMENT.")
	fs.BoolVar(&inv.DryRun, "dry-run", false, "Build metadata but do not call the catalog.")

	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}

	switch fs.NArg() {
	case 0:
		return Invocation{}, invalidInvocationf("missing path argument")
	case 1:
		inv.Path = fs.Arg(0)
	default:
		return Invocation{}, invalidInvocationf("unexpected extra arguments: %q", strings.Join(fs.Args()[1:], " "))
	}

	if inv.Workers < 0 {
		return Invocation{}, invalidInvocationf("--workers must be >= 0 (got %d)", inv.Workers)
	}
	if inv.Retries < 1 {
		return Invocation{}, invalidInvocationf("--retries must be >= 1 (got %d)", inv.Retries)
	}
	if inv.RateLimit < 0 {
		return Invocation{}, invalidInvocationf("--rate-limit must be >= 0 (got %g)", inv.RateLimit)
	}

	inv.Algorithms = []string(algos)
	if err := declare.ValidateAlgorithms(inv.Algorithms); err != nil {
		return Invocation{}, invalidInvocationf("%v (supported: %s)",
			err, strings.Join(declare.SupportedAlgorithms(), ", "))
	}

	if _, err := parseLevel(inv.LogLevel); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}

	if inv.Experiment == "" {
		inv.Experiment = lookupEnv("EXPERIMENT")
	}

	return inv, nil
}

// ExitCode extracts the semantic exit code from an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.ExitCode
	}
	return ExitInternalError
}
